package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizroom-service/internal/client"
	"quizroom-service/internal/domain"
)

// clientEnv carries the participant-side knobs, overridable from the
// environment the way server settings are.
type clientEnv struct {
	ServerURL    string        `envconfig:"QUIZROOM_SERVER_URL" default:"ws://localhost:8080/ws"`
	RetryLimit   int           `envconfig:"QUIZROOM_RETRY_LIMIT" default:"5"`
	RetryBackoff time.Duration `envconfig:"QUIZROOM_RETRY_BACKOFF" default:"2s"`
	PingInterval time.Duration `envconfig:"QUIZROOM_PING_INTERVAL" default:"10s"`
}

// NewJoinCmd builds an interactive terminal participant. With --create it
// opens a new room from a seed; otherwise it joins an existing code.
func NewJoinCmd() *cobra.Command {
	var (
		roomCode string
		name     string
		create   bool
		title    string
		seedID   string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join (or create) a quiz room from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var env clientEnv
			if err := envconfig.Process("", &env); err != nil {
				return err
			}
			return runClient(cmd, env, roomCode, name, create, title, seedID)
		},
	}

	cmd.Flags().StringVar(&roomCode, "room", "", "room code to join")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&create, "create", false, "create a new room instead of joining")
	cmd.Flags().StringVar(&title, "title", "Quiz", "room title when creating")
	cmd.Flags().StringVar(&seedID, "seed", "seed-1", "question seed ID when creating")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runClient(cmd *cobra.Command, env clientEnv, roomCode, name string, create bool, title, seedID string) error {
	zlog, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	c := client.New(client.Config{
		URL:          env.ServerURL,
		RetryLimit:   env.RetryLimit,
		RetryBackoff: env.RetryBackoff,
		PingInterval: env.PingInterval,
		Logger:       zlog.Sugar(),
	})
	ctx := cmd.Context()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	if create {
		if err := c.CreateRoom(ctx, title, name, seedID); err != nil {
			return err
		}
	} else {
		if roomCode == "" {
			return fmt.Errorf("--room is required unless --create is set")
		}
		if err := c.JoinRoom(ctx, roomCode, name); err != nil {
			return err
		}
	}

	// The open question's index, shared with the stdin reader.
	var questionIndex atomic.Int64
	questionIndex.Store(-1)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			option := strings.TrimSpace(scanner.Text())
			if option == "" {
				continue
			}
			idx := questionIndex.Load()
			if idx < 0 {
				fmt.Println("no question open")
				continue
			}
			if err := c.SubmitAnswer(option, int(idx)); err != nil {
				fmt.Printf("submit failed: %v\n", err)
			}
		}
	}()

	for ev := range c.Events() {
		switch ev.Type {
		case domain.EvtRoomCreated:
			var p domain.RoomCreatedPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				fmt.Printf("room created, code %s (share it to let others join)\n", p.RoomCode)
			}
		case domain.EvtRoomJoined:
			var p domain.RoomJoinedPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				verb := "joined"
				if p.Resumed {
					verb = "rejoined"
				}
				fmt.Printf("%s room %s (%d participant(s))\n", verb, p.Snapshot.Code, len(p.Snapshot.Participants))
			}
		case domain.EvtUserJoined, domain.EvtUserLeft:
			var p domain.PresencePayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				names := make([]string, 0, len(p.Participants))
				for _, view := range p.Participants {
					label := view.DisplayName
					if !view.Connected {
						label += " (away)"
					}
					names = append(names, label)
				}
				fmt.Printf("participants: %s\n", strings.Join(names, ", "))
			}
		case domain.EvtNextQuestion:
			var p domain.NextQuestionPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				questionIndex.Store(int64(p.QuestionIndex))
				fmt.Printf("\nQ%d/%d: %s (%ds to answer)\n", p.QuestionIndex+1, p.QuestionTotal, p.Prompt, client.ParseDeadline(p))
				for _, opt := range p.Options {
					fmt.Printf("  [%s] %s\n", opt.ID, opt.Text)
				}
				fmt.Println("type an option id and press enter")
			}
		case domain.EvtShowResults:
			var p domain.ShowResultsPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				questionIndex.Store(-1)
				fmt.Printf("correct answer: %s\n", p.CorrectOption)
				for _, entry := range p.Scores {
					fmt.Printf("  %s: %d\n", entry.DisplayName, entry.Score)
				}
			}
		case domain.EvtGameOver:
			var p domain.GameOverPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				fmt.Println("\nfinal scores:")
				for _, entry := range p.Scores {
					fmt.Printf("  %s: %d\n", entry.DisplayName, entry.Score)
				}
			}
		case domain.EvtRoomClosed:
			fmt.Println("room closed")
			return nil
		case client.EvtReconnecting:
			fmt.Println("connection lost, reconnecting...")
		case client.EvtReconnected:
			fmt.Println("reconnected")
		case client.EvtConnectionLost:
			return domain.ErrChannelLost
		case domain.EvtError:
			var p domain.ErrorPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				fmt.Printf("error: %s\n", p.Message)
			}
		}
	}
	return nil
}
