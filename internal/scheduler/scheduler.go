// Package scheduler decides when the reasoning loop runs. It implements
// chat.Listener: each eligible message starts a run for its
// conversation, superseding (cancel, then wait) any run already going
// there, and an idle timer occasionally starts a run with no
// conversation at all.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/nugget/vercade/internal/agent"
	"github.com/nugget/vercade/internal/chat"
	"github.com/nugget/vercade/internal/events"
	"github.com/nugget/vercade/internal/prompts"
	"github.com/nugget/vercade/internal/usage"
)

// Runner runs one invocation of the reasoning loop. *agent.Loop
// implements it.
type Runner interface {
	Invoke(ctx context.Context, event string) error
}

// FollowUp configures the optional second look at a conversation after
// a message-triggered run. Probability 0 disables it.
type FollowUp struct {
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Config configures a Scheduler. Hub and Runner are required.
type Config struct {
	Hub    chat.Hub
	Runner Runner
	Logger *slog.Logger
	Events *events.Bus

	// IdleInterval is the time between idle coin flips. Zero disables
	// idle runs.
	IdleInterval time.Duration
	// ReplyDelay is the upper bound of a random pause before each
	// message-triggered invocation. Zero disables it.
	ReplyDelay time.Duration
	FollowUp   FollowUp

	// Coin decides an idle tick. The default is a fair coin.
	Coin func() bool
	// Chance reports true with probability p. The default uses
	// math/rand.
	Chance func(p float64) bool
	// Delay picks a duration in [lo, hi]. The default is uniform.
	Delay func(lo, hi time.Duration) time.Duration
}

// run is one in-flight invocation, keyed or idle.
type run struct {
	id      uint64
	conv    chat.Context
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// Scheduler is the trigger policy. It is safe for concurrent use.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	root context.Context
	halt context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	ready   bool
	stopped bool
	nextID  uint64
	running map[chat.ConversationKey]*run
	idle    map[uint64]*run
	handoff map[chat.ConversationKey]*handoff
}

// handoff serializes replacements for one key. The entry lives only
// while some Receive holds or waits for it.
type handoff struct {
	sync.Mutex
	refs int
}

// New returns a Scheduler that ignores everything until Ready.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Coin == nil {
		cfg.Coin = func() bool { return rand.IntN(2) == 0 }
	}
	if cfg.Chance == nil {
		cfg.Chance = func(p float64) bool { return rand.Float64() < p }
	}
	if cfg.Delay == nil {
		cfg.Delay = uniformDelay
	}

	root, halt := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "scheduler"),
		root:    root,
		halt:    halt,
		running: make(map[chat.ConversationKey]*run),
		idle:    make(map[uint64]*run),
		handoff: make(map[chat.ConversationKey]*handoff),
	}
}

func uniformDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// ShouldRespond reports whether m is something the agent may react to:
// not its own message, and not addressed only to other people.
func (s *Scheduler) ShouldRespond(m chat.Message) bool {
	self := s.cfg.Hub.Self()
	if m.Author == self {
		return false
	}
	if len(m.Mentions) > 0 && !m.Mentioned(self) {
		return false
	}
	return true
}

// Ready opens the gate. The first call arms the idle timer; later calls
// do nothing.
func (s *Scheduler) Ready(ctx context.Context) {
	s.mu.Lock()
	if s.ready || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ready = true
	idle := s.cfg.IdleInterval > 0
	if idle {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	data := map[string]any{"self": s.cfg.Hub.Self()}
	if servers, err := s.cfg.Hub.Servers(ctx); err == nil {
		data["servers"] = len(servers)
	}
	s.cfg.Events.Emit(events.SourceScheduler, events.KindReady, data)
	s.logger.Info("scheduler ready", "idle_interval", s.cfg.IdleInterval)

	if idle {
		go s.idleLoop()
	}
}

func (s *Scheduler) accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.stopped
}

// Receive handles an incoming message. It returns once any run it
// superseded has stopped and the replacement has started.
func (s *Scheduler) Receive(_ context.Context, c chat.Context, m chat.Message) {
	if !s.accepting() {
		s.logger.Debug("message dropped before ready", "conversation", c.String())
		return
	}

	s.cfg.Events.Emit(events.SourceScheduler, events.KindMessageReceived, map[string]any{
		"server":  c.Server.Name,
		"channel": c.Channel.Name,
		"author":  m.Author,
	})

	if !s.ShouldRespond(m) {
		s.skipped(c, "not addressed to us")
		return
	}
	s.startConversation(c)
}

func (s *Scheduler) skipped(c chat.Context, reason string) {
	s.logger.Debug("message skipped", "conversation", c.String(), "reason", reason)
	s.cfg.Events.Emit(events.SourceScheduler, events.KindMessageSkipped, map[string]any{
		"server":  c.Server.Name,
		"channel": c.Channel.Name,
		"reason":  reason,
	})
}

func (s *Scheduler) acquireHandoff(key chat.ConversationKey) *handoff {
	s.mu.Lock()
	h, ok := s.handoff[key]
	if !ok {
		h = &handoff{}
		s.handoff[key] = h
	}
	h.refs++
	s.mu.Unlock()

	h.Lock()
	return h
}

func (s *Scheduler) releaseHandoff(key chat.ConversationKey, h *handoff) {
	h.Unlock()

	s.mu.Lock()
	h.refs--
	if h.refs == 0 {
		delete(s.handoff, key)
	}
	s.mu.Unlock()
}

// newRunLocked allocates a run derived from the root context. Caller
// must hold s.mu.
func (s *Scheduler) newRunLocked(c chat.Context) *run {
	s.nextID++
	ctx, cancel := context.WithCancel(s.root)
	return &run{
		id:      s.nextID,
		conv:    c,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
}

// startConversation performs the handoff for c's key: cancel the
// current run, wait for it to finish, then start the replacement.
// Concurrent calls for one key queue on the key's handoff lock.
func (s *Scheduler) startConversation(c chat.Context) {
	key := c.Key()
	h := s.acquireHandoff(key)
	defer s.releaseHandoff(key, h)

	s.mu.Lock()
	prev := s.running[key]
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		s.logger.Debug("superseding run", "conversation", c.String(), "run", prev.id)
		s.cfg.Events.Emit(events.SourceScheduler, events.KindRunSuperseded, map[string]any{
			"server":  c.Server.Name,
			"channel": c.Channel.Name,
		})
		<-prev.done
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	r := s.newRunLocked(c)
	s.running[key] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runConversation(r)
}

// finishConversation is the completion hook of a keyed run. A run that
// has already been replaced leaves the map alone.
func (s *Scheduler) finishConversation(r *run) {
	s.mu.Lock()
	if cur, ok := s.running[r.conv.Key()]; ok && cur.id == r.id {
		delete(s.running, r.conv.Key())
	}
	s.mu.Unlock()
	r.cancel()
	close(r.done)
	s.wg.Done()
}

// errSkipped marks a run that found the conversation no longer needs
// an answer.
var errSkipped = errors.New("latest message is not for us")

func (s *Scheduler) runConversation(r *run) {
	defer s.finishConversation(r)

	s.cfg.Events.Emit(events.SourceScheduler, events.KindRunStarted, map[string]any{
		"server":  r.conv.Server.Name,
		"channel": r.conv.Channel.Name,
		"trigger": usage.TriggerMessage,
	})

	err := s.respond(r, usage.TriggerMessage)
	if err == nil || errors.Is(err, errSkipped) {
		if ferr := s.followUp(r); ferr != nil {
			err = ferr
		}
	}
	s.finished(r, err)
}

// respond is one look at the conversation: an optional random pause,
// the re-check of the latest message, then the invocation.
func (s *Scheduler) respond(r *run, trigger string) error {
	if s.cfg.ReplyDelay > 0 {
		if err := sleep(r.ctx, s.cfg.Delay(0, s.cfg.ReplyDelay)); err != nil {
			return err
		}
	}

	latest, err := s.cfg.Hub.Messages(r.ctx, r.conv, 1)
	if err != nil {
		return fmt.Errorf("fetch latest message: %w", err)
	}
	if len(latest) > 0 && !s.ShouldRespond(latest[len(latest)-1]) {
		s.skipped(r.conv, errSkipped.Error())
		return errSkipped
	}

	ctx := agent.WithOrigin(r.ctx, agent.Origin{Trigger: trigger, Conversation: r.conv.String()})
	return s.cfg.Runner.Invoke(ctx, prompts.MessageEvent(r.conv.Server.Name, r.conv.Channel.Name))
}

// followUp sometimes waits a few minutes and looks at the conversation
// again, still holding the key so a new message supersedes it.
func (s *Scheduler) followUp(r *run) error {
	f := s.cfg.FollowUp
	if f.Probability <= 0 || !s.cfg.Chance(f.Probability) {
		return nil
	}
	wait := s.cfg.Delay(f.MinDelay, f.MaxDelay)
	s.logger.Debug("follow-up scheduled", "conversation", r.conv.String(), "delay", wait)
	if err := sleep(r.ctx, wait); err != nil {
		return err
	}
	return s.respond(r, usage.TriggerFollowUp)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finished logs a run's end. Errors stop here; the platform handler
// never sees them.
func (s *Scheduler) finished(r *run, err error) {
	outcome := "ok"
	logger := s.logger.With("run", r.id)
	if r.conv.Key() != (chat.ConversationKey{}) {
		logger = logger.With("conversation", r.conv.String())
	}
	elapsed := time.Since(r.started)

	switch {
	case err == nil:
		logger.Info("run finished", "elapsed", elapsed.Round(time.Millisecond))
	case errors.Is(err, errSkipped):
		outcome = "skipped"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
		logger.Debug("run cancelled", "elapsed", elapsed.Round(time.Millisecond))
	default:
		outcome = "error"
		logger.Warn("run failed", "error", err, "elapsed", elapsed.Round(time.Millisecond))
	}

	s.cfg.Events.Emit(events.SourceScheduler, events.KindRunFinished, map[string]any{
		"server":      r.conv.Server.Name,
		"channel":     r.conv.Channel.Name,
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
	})
}

// idleLoop flips the coin right away and then once per interval.
func (s *Scheduler) idleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.IdleInterval)
	defer ticker.Stop()
	for {
		s.idleTick()
		select {
		case <-s.root.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) idleTick() {
	heads := s.cfg.Coin()
	s.cfg.Events.Emit(events.SourceScheduler, events.KindIdleTick, map[string]any{"heads": heads})
	if !heads {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	r := s.newRunLocked(chat.Context{})
	s.idle[r.id] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runIdle(r)
}

func (s *Scheduler) runIdle(r *run) {
	defer func() {
		s.mu.Lock()
		delete(s.idle, r.id)
		s.mu.Unlock()
		r.cancel()
		close(r.done)
		s.wg.Done()
	}()

	s.logger.Debug("idle run started", "run", r.id)
	s.cfg.Events.Emit(events.SourceScheduler, events.KindRunStarted, map[string]any{"trigger": usage.TriggerIdle})

	ctx := agent.WithOrigin(r.ctx, agent.Origin{Trigger: usage.TriggerIdle})
	s.finished(r, s.cfg.Runner.Invoke(ctx, prompts.IdleEvent))
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Ready bool `json:"ready"`
	// Running lists the conversations with a run in flight, sorted.
	Running []string `json:"running"`
	Idle    int      `json:"idle"`
}

// Snapshot returns the current Status.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Ready: s.ready, Running: make([]string, 0, len(s.running)), Idle: len(s.idle)}
	for _, r := range s.running {
		st.Running = append(st.Running, r.conv.String())
	}
	slices.Sort(st.Running)
	return st
}

// Stop cancels every run and waits for them and the idle loop to end.
// Events received afterwards are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.halt()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
