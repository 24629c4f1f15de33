package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Sink is the outbound side of one participant's connection channel.
// Deliver must not block; slow links are the sink's problem, never the room's.
type Sink interface {
	Deliver(ev domain.Event)
}

// Timing groups the engine's clock knobs.
type Timing struct {
	QuestionTime time.Duration
	ResultsTime  time.Duration
	GracePeriod  time.Duration
	IdleTTL      time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.QuestionTime <= 0 {
		t.QuestionTime = 10 * time.Second
	}
	if t.ResultsTime <= 0 {
		t.ResultsTime = 3 * time.Second
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = 30 * time.Second
	}
	if t.IdleTTL <= 0 {
		t.IdleTTL = 10 * time.Minute
	}
	return t
}

type participant struct {
	name           string
	score          int
	connected      bool
	disconnectedAt time.Time
	sink           Sink
}

// Room owns all state for one quiz session. A single goroutine consumes
// the command queue, so command arrival order is the serialization order
// and a submission can never race a timer-driven advance.
type Room struct {
	code    string
	title   string
	creator string

	questions []domain.Question
	timing    Timing
	log       *zap.SugaredLogger
	now       func() time.Time
	archiver  ScoreArchiver
	onClose   func(code string)

	cmds chan func()
	done chan struct{}

	// Loop-owned state below; touched only from run().
	status        domain.RoomStatus
	questionIndex int
	deadline      time.Time
	participants  []*participant
	responses     map[string]string
	lastActivity  time.Time
	phaseTimer    *time.Timer
	closed        bool
	closeReason   string
}

func newRoom(code, title, creator string, questions []domain.Question, timing Timing, log *zap.SugaredLogger, archiver ScoreArchiver, onClose func(string)) *Room {
	timing = timing.withDefaults()
	r := &Room{
		code:      code,
		title:     title,
		creator:   creator,
		questions: questions,
		timing:    timing,
		log:       log.Named("room").With("code", code),
		now:       time.Now,
		archiver:  archiver,
		onClose:   onClose,
		cmds:      make(chan func(), 64),
		done:      make(chan struct{}),
		status:    domain.StatusLobby,
		responses: make(map[string]string),
	}
	r.lastActivity = r.now()
	return r
}

func (r *Room) Code() string  { return r.code }
func (r *Room) Title() string { return r.title }

// Done is closed once the room has shut down and dropped from the registry.
func (r *Room) Done() <-chan struct{} { return r.done }

// run is the room's single serialization point. Creation is the start
// trigger: the first question opens as soon as the loop starts.
func (r *Room) run(ctx context.Context) {
	defer r.finalize()

	r.phaseTimer = time.NewTimer(r.timing.QuestionTime)
	defer r.phaseTimer.Stop()

	housekeep := time.NewTicker(time.Second)
	defer housekeep.Stop()

	r.openQuestion(0)

	for {
		select {
		case <-ctx.Done():
			r.closed = true
			r.closeReason = "server shutdown"
		case fn := <-r.cmds:
			fn()
		case <-r.phaseTimer.C:
			r.onPhaseElapsed()
		case <-housekeep.C:
			r.onHousekeep()
		}
		if r.closed {
			return
		}
	}
}

func (r *Room) finalize() {
	r.broadcast(domain.Event{Type: domain.EvtRoomClosed, Payload: domain.RoomClosedPayload{
		RoomCode: r.code,
		Reason:   r.closeReason,
	}})
	close(r.done)
	if r.onClose != nil {
		r.onClose(r.code)
	}
	r.log.Infow("room closed", "reason", r.closeReason)
}

// post hands a command to the room loop, giving up if the room has shut
// down or the caller's context expires first.
func (r *Room) post(ctx context.Context, fn func()) error {
	select {
	case r.cmds <- fn:
		return nil
	case <-r.done:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds a participant, or resumes a disconnected one holding the
// same display name inside the grace period.
func (r *Room) Join(ctx context.Context, name string, sink Sink) (domain.RoomSnapshot, bool, error) {
	type joinResult struct {
		snap    domain.RoomSnapshot
		resumed bool
		err     error
	}
	reply := make(chan joinResult, 1)
	if err := r.post(ctx, func() {
		snap, resumed, err := r.join(name, sink)
		reply <- joinResult{snap, resumed, err}
	}); err != nil {
		return domain.RoomSnapshot{}, false, err
	}
	select {
	case res := <-reply:
		return res.snap, res.resumed, res.err
	case <-r.done:
		return domain.RoomSnapshot{}, false, domain.ErrRoomClosed
	case <-ctx.Done():
		return domain.RoomSnapshot{}, false, ctx.Err()
	}
}

// Leave removes a participant outright. The creator leaving closes the room.
func (r *Room) Leave(ctx context.Context, name string) error {
	return r.post(ctx, func() { r.leave(name) })
}

// Submit records an answer for the currently open question.
// A duplicate submission returns ErrAlreadyAnswered without mutating responses.
func (r *Room) Submit(ctx context.Context, name, option string, questionIndex int) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, func() { reply <- r.submit(name, option, questionIndex) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping resets the room's idle clock and the sender's disconnect grace
// timer on behalf of a keep-alive.
func (r *Room) Ping(ctx context.Context, name string) error {
	return r.post(ctx, func() { r.ping(name) })
}

// Disconnect marks a participant as dropped. The sink identity guards
// against a stale close racing a completed reconnect.
func (r *Room) Disconnect(ctx context.Context, name string, sink Sink) error {
	return r.post(ctx, func() { r.disconnect(name, sink) })
}

// Snapshot returns the room's current externally visible state.
func (r *Room) Snapshot(ctx context.Context) (domain.RoomSnapshot, error) {
	reply := make(chan domain.RoomSnapshot, 1)
	if err := r.post(ctx, func() { reply <- r.snapshot() }); err != nil {
		return domain.RoomSnapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-r.done:
		return domain.RoomSnapshot{}, domain.ErrRoomClosed
	case <-ctx.Done():
		return domain.RoomSnapshot{}, ctx.Err()
	}
}

func (r *Room) join(name string, sink Sink) (domain.RoomSnapshot, bool, error) {
	if r.status == domain.StatusFinished {
		return domain.RoomSnapshot{}, false, domain.ErrRoomClosed
	}
	r.touch()

	if p := r.find(name); p != nil {
		if p.connected {
			return domain.RoomSnapshot{}, false, domain.ErrNameTaken
		}
		// Reconnect inside the grace period: same identity, prior score.
		p.connected = true
		p.disconnectedAt = time.Time{}
		p.sink = sink
		snap := r.snapshot()
		sink.Deliver(domain.Event{Type: domain.EvtRoomJoined, Payload: domain.RoomJoinedPayload{Snapshot: snap, Resumed: true}})
		if r.status == domain.StatusInProgress {
			sink.Deliver(r.questionEvent())
		}
		r.broadcastExcept(sink, r.presenceEvent(domain.EvtUserJoined, name))
		r.log.Infow("participant resumed", "name", name)
		return snap, true, nil
	}

	p := &participant{name: name, connected: true, sink: sink}
	r.participants = append(r.participants, p)
	snap := r.snapshot()
	sink.Deliver(domain.Event{Type: domain.EvtRoomJoined, Payload: domain.RoomJoinedPayload{Snapshot: snap}})
	if r.status == domain.StatusInProgress {
		sink.Deliver(r.questionEvent())
	}
	r.broadcastExcept(sink, r.presenceEvent(domain.EvtUserJoined, name))
	r.log.Infow("participant joined", "name", name)
	return snap, false, nil
}

func (r *Room) leave(name string) {
	p := r.find(name)
	if p == nil {
		return
	}
	r.touch()
	r.remove(name)
	r.broadcast(r.presenceEvent(domain.EvtUserLeft, name))
	r.log.Infow("participant left", "name", name)

	if name == r.creator {
		r.shutdown("creator left")
		return
	}
	if len(r.participants) == 0 {
		r.shutdown("room empty")
		return
	}
	r.maybeAdvanceEarly()
}

func (r *Room) submit(name, option string, questionIndex int) error {
	p := r.find(name)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	r.touch()
	if r.status != domain.StatusInProgress || questionIndex != r.questionIndex {
		return domain.ErrQuestionClosed
	}
	if _, dup := r.responses[name]; dup {
		return domain.ErrAlreadyAnswered
	}
	r.responses[name] = option
	r.maybeAdvanceEarly()
	return nil
}

func (r *Room) ping(name string) {
	r.touch()
	if p := r.find(name); p != nil && !p.connected {
		// Grace is measured from the last contact, not the channel drop.
		p.disconnectedAt = r.now()
	}
}

func (r *Room) disconnect(name string, sink Sink) {
	p := r.find(name)
	if p == nil || p.sink != sink {
		return
	}
	p.connected = false
	p.disconnectedAt = r.now()
	p.sink = nil
	r.broadcast(r.presenceEvent(domain.EvtUserLeft, name))
	r.log.Infow("participant disconnected", "name", name)
	r.maybeAdvanceEarly()
}

func (r *Room) onPhaseElapsed() {
	switch r.status {
	case domain.StatusInProgress:
		r.closeQuestion()
	case domain.StatusShowingResults:
		if r.questionIndex+1 < len(r.questions) {
			r.openQuestion(r.questionIndex + 1)
		} else {
			r.finish()
		}
	}
}

func (r *Room) onHousekeep() {
	now := r.now()

	var expired []string
	for _, p := range r.participants {
		if !p.connected && now.Sub(p.disconnectedAt) > r.timing.GracePeriod {
			expired = append(expired, p.name)
		}
	}
	for _, name := range expired {
		r.remove(name)
		r.broadcast(r.presenceEvent(domain.EvtUserLeft, name))
		r.log.Infow("participant evicted after grace period", "name", name)
		if name == r.creator {
			r.shutdown("creator gone")
			return
		}
	}

	if len(r.participants) == 0 {
		r.shutdown("room empty")
		return
	}
	if now.Sub(r.lastActivity) > r.timing.IdleTTL {
		r.shutdown("idle timeout")
		return
	}
	if len(expired) > 0 {
		r.maybeAdvanceEarly()
	}
}

func (r *Room) openQuestion(index int) {
	r.status = domain.StatusInProgress
	r.questionIndex = index
	r.responses = make(map[string]string)
	r.deadline = r.now().Add(r.timing.QuestionTime)
	r.resetPhase(r.timing.QuestionTime)
	r.broadcast(r.questionEvent())
	r.log.Infow("question opened", "index", index)
}

func (r *Room) closeQuestion() {
	q := r.questions[r.questionIndex]
	correct := correctOptionID(q)

	tally := make(map[string]int)
	for name, option := range r.responses {
		tally[option]++
		if option == correct {
			if p := r.find(name); p != nil {
				p.score++
			}
		}
	}

	r.status = domain.StatusShowingResults
	r.resetPhase(r.timing.ResultsTime)
	r.broadcast(domain.Event{Type: domain.EvtShowResults, Payload: domain.ShowResultsPayload{
		QuestionIndex: r.questionIndex,
		CorrectOption: correct,
		Tally:         tally,
		Scores:        r.scores(),
	}})
	r.log.Infow("question closed", "index", r.questionIndex, "answers", len(r.responses))
}

func (r *Room) finish() {
	r.status = domain.StatusFinished
	// A finished room reports the index past the last question.
	r.questionIndex = len(r.questions)
	scores := r.scores()
	r.broadcast(domain.Event{Type: domain.EvtGameOver, Payload: domain.GameOverPayload{
		RoomCode: r.code,
		Scores:   scores,
	}})
	r.log.Infow("game over", "questions", len(r.questions), "participants", len(r.participants))

	if r.archiver != nil {
		result := domain.RoomResult{
			RoomCode:      r.code,
			Title:         r.title,
			QuestionTotal: len(r.questions),
			FinishedAt:    r.now(),
			Scores:        scores,
		}
		log := r.log
		archiver := r.archiver
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := archiver.Archive(ctx, result); err != nil {
				log.Warnw("score archival failed", "error", err)
			}
		}()
	}
}

// maybeAdvanceEarly closes the question once every connected participant
// has answered, without waiting for the countdown.
func (r *Room) maybeAdvanceEarly() {
	if r.status != domain.StatusInProgress {
		return
	}
	connected := 0
	answered := 0
	for _, p := range r.participants {
		if !p.connected {
			continue
		}
		connected++
		if _, ok := r.responses[p.name]; ok {
			answered++
		}
	}
	if connected > 0 && answered == connected {
		r.closeQuestion()
	}
}

func (r *Room) shutdown(reason string) {
	r.closed = true
	r.closeReason = reason
}

func (r *Room) resetPhase(d time.Duration) {
	if !r.phaseTimer.Stop() {
		select {
		case <-r.phaseTimer.C:
		default:
		}
	}
	r.phaseTimer.Reset(d)
}

func (r *Room) touch() {
	r.lastActivity = r.now()
}

func (r *Room) find(name string) *participant {
	for _, p := range r.participants {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (r *Room) remove(name string) {
	for i, p := range r.participants {
		if p.name == name {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return
		}
	}
}

func (r *Room) broadcast(ev domain.Event) {
	for _, p := range r.participants {
		if p.connected && p.sink != nil {
			p.sink.Deliver(ev)
		}
	}
}

func (r *Room) broadcastExcept(skip Sink, ev domain.Event) {
	for _, p := range r.participants {
		if p.connected && p.sink != nil && p.sink != skip {
			p.sink.Deliver(ev)
		}
	}
}

func (r *Room) presenceEvent(kind, name string) domain.Event {
	return domain.Event{Type: kind, Payload: domain.PresencePayload{
		DisplayName:  name,
		Participants: r.participantViews(),
	}}
}

func (r *Room) questionEvent() domain.Event {
	q := r.questions[r.questionIndex]
	options := make([]domain.OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, domain.OptionView{ID: opt.ID, Text: opt.Text})
	}
	return domain.Event{Type: domain.EvtNextQuestion, Payload: domain.NextQuestionPayload{
		QuestionIndex: r.questionIndex,
		QuestionTotal: len(r.questions),
		Prompt:        q.Prompt,
		Options:       options,
		Deadline:      r.deadline,
	}}
}

func (r *Room) participantViews() []domain.ParticipantView {
	views := make([]domain.ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, domain.ParticipantView{
			DisplayName: p.name,
			Score:       p.score,
			Connected:   p.connected,
		})
	}
	return views
}

func (r *Room) scores() []domain.ScoreEntry {
	entries := make([]domain.ScoreEntry, 0, len(r.participants))
	for _, p := range r.participants {
		entries = append(entries, domain.ScoreEntry{DisplayName: p.name, Score: p.score})
	}
	return entries
}

func (r *Room) snapshot() domain.RoomSnapshot {
	return domain.RoomSnapshot{
		Code:          r.code,
		Title:         r.title,
		Creator:       r.creator,
		Status:        r.status,
		QuestionIndex: r.questionIndex,
		QuestionTotal: len(r.questions),
		Participants:  r.participantViews(),
	}
}

func correctOptionID(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	if len(q.Options) > 0 {
		return q.Options[0].ID
	}
	return ""
}
