package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgstore "quizroom-service/internal/infra/postgres"
	redisstore "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/logging"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the coordinator.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz-room coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()
	log := zlog.Sugar().Named("server")
	ctx = logging.WithLogger(ctx, log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.SeedLoader = memory.NewStaticSeedLoader(sampleSeeds())
	if pool != nil {
		loader = pgstore.NewSeedLoader(pool)
	}

	seedTTL := config.Duration(cfg.Seed.TTL, 10*time.Minute)
	var seeds app.SeedRepository
	if redisClient != nil {
		seeds = redisstore.NewSeedRepository(redisClient, loader, seedTTL)
	} else {
		seeds = memory.NewSeedRepository(loader, seedTTL)
	}

	var store app.RoomStore
	if redisClient != nil {
		store = redisstore.NewRoomStore(redisClient, redisTTL)
	} else {
		store = memory.NewRoomStore()
	}

	var archiver app.ScoreArchiver
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
		archiver = pgstore.NewScoreArchiver(bundb)
	}

	timing := app.Timing{
		QuestionTime: config.Duration(cfg.Room.QuestionTime, 10*time.Second),
		ResultsTime:  config.Duration(cfg.Room.ResultsTime, 3*time.Second),
		GracePeriod:  config.Duration(cfg.Room.GracePeriod, 30*time.Second),
		IdleTTL:      config.Duration(cfg.Room.IdleTTL, 10*time.Minute),
	}
	registry := app.NewRegistry(store, seeds, archiver, timing, log)
	defer registry.Close()

	wsHandler := transport.NewWSHandler(registry)
	roomInfo := transport.NewRoomInfoHandler(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler.ServeWS(w, r.WithContext(logging.WithLogger(r.Context(), log)))
	})
	mux.Handle("GET /rooms/{code}", roomInfo)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 0, // websocket connections are long-lived
	}

	go func() {
		log.Infow("starting quiz-room coordinator", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleSeeds provides minimal demo content; production deployments load
// seeds produced by the document ingestion service from Postgres.
func sampleSeeds() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"seed-1": {
			ID: "seed-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "o1", Text: "Venus", Correct: false},
						{ID: "o2", Text: "Mercury", Correct: true},
						{ID: "o3", Text: "Mars", Correct: false},
					},
				},
			},
		},
	}
}
