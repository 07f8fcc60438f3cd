package automation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

// State is the lifecycle state of the automation loop.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultWindow        = time.Hour
	DefaultBatchSize     = 10
)

// =============================================================================
// Loop - inbox polling state machine
// =============================================================================
//
// Stopped -> Starting -> Running -> Stopping -> Stopped.
// A Stop that arrives while Starting is held until the connectors return;
// the loop then goes back to Stopped without polling.
// Stop is cooperative: it is observed between messages and between cycles,
// so a message that already entered the pipeline always runs to the end.

type LoopConfig struct {
	CheckInterval time.Duration
	Window        time.Duration
	BatchSize     int
}

type Loop struct {
	mu        sync.Mutex
	state     State
	interval  time.Duration
	lastCheck *time.Time
	stopCh    chan struct{}
	done      chan struct{}
	wake      chan struct{}
	started   chan struct{} // closed when Starting ends
	stopAsked bool

	connectors []out.Connector
	inbox      out.InboxProvider
	pipeline   *Pipeline
	ledger     *Ledger
	window     time.Duration
	batchSize  int
	now        func() time.Time
	log        zerolog.Logger
}

// NewLoop builds a stopped loop. Connectors are initialized on every Start.
func NewLoop(cfg LoopConfig, inbox out.InboxProvider, pipeline *Pipeline, ledger *Ledger, connectors []out.Connector, log zerolog.Logger) *Loop {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Loop{
		state:      StateStopped,
		interval:   cfg.CheckInterval,
		connectors: connectors,
		inbox:      inbox,
		pipeline:   pipeline,
		ledger:     ledger,
		window:     cfg.Window,
		batchSize:  cfg.BatchSize,
		now:        time.Now,
		log:        log.With().Str("component", "automation_loop").Logger(),
	}
}

// Start connects the collaborators and launches the polling goroutine.
// It is a no-op unless the loop is stopped. A connector failure is returned
// as an initialization error and leaves the loop stopped.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		l.log.Debug().Str("state", string(l.state)).Msg("start ignored")
		return nil
	}
	l.state = StateStarting
	l.started = make(chan struct{})
	started := l.started
	l.mu.Unlock()
	defer close(started)

	for _, c := range l.connectors {
		if err := c.Connect(ctx); err != nil {
			l.mu.Lock()
			l.state = StateStopped
			l.stopAsked = false
			l.mu.Unlock()
			err = apperr.Initialization("connect "+c.Name(), err)
			l.log.Error().Err(err).Msg("automation failed to start")
			return err
		}
	}

	l.mu.Lock()
	if l.stopAsked {
		l.state = StateStopped
		l.stopAsked = false
		l.mu.Unlock()
		l.log.Info().Msg("automation stopped before it started")
		return nil
	}
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.wake = make(chan struct{}, 1)
	l.state = StateRunning
	stopCh, done, wake := l.stopCh, l.done, l.wake
	l.mu.Unlock()

	l.log.Info().Dur("check_interval", l.CheckInterval()).Msg("automation started")
	go l.run(context.WithoutCancel(ctx), stopCh, wake, done)
	return nil
}

// Stop requests a stop and waits for the in-flight message to finish or ctx
// to expire. While Starting it waits for Start to give up instead. Stopping
// a stopped loop is a no-op.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateStarting:
		l.stopAsked = true
		started := l.started
		l.mu.Unlock()
		l.log.Info().Msg("automation stop requested while starting")
		return wait(ctx, started)
	case StateStopping:
		done := l.done
		l.mu.Unlock()
		return wait(ctx, done)
	case StateStopped:
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	close(l.stopCh)
	done := l.done
	l.mu.Unlock()

	l.log.Info().Msg("automation stopping")
	return wait(ctx, done)
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current run exits. Nil if the loop never started.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Status() in.AutomationStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last *time.Time
	if l.lastCheck != nil {
		t := *l.lastCheck
		last = &t
	}
	return in.AutomationStatus{
		IsRunning:      l.state == StateRunning,
		State:          string(l.state),
		ProcessedCount: l.ledger.Count(),
		CheckInterval:  l.interval.Seconds(),
		LastCheck:      last,
	}
}

func (l *Loop) CheckInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetCheckInterval changes the sleep between cycles. A running loop picks it
// up immediately instead of finishing the current sleep.
func (l *Loop) SetCheckInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.interval = d
	wake := l.wake
	l.mu.Unlock()

	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// ProcessOne runs a single message through the pipeline outside the polling
// cycle. It shares the dedup ledger with the loop.
func (l *Loop) ProcessOne(ctx context.Context, msg *domain.InboundMessage) (result *in.ProcessResult, err error) {
	defer recoverProcess(msg.ID, &err)
	return l.pipeline.Process(ctx, msg)
}

func (l *Loop) run(ctx context.Context, stopCh, wake <-chan struct{}, done chan<- struct{}) {
	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.mu.Unlock()
		close(done)
		l.log.Info().Msg("automation stopped")
	}()

	for {
		if stopped(stopCh) {
			return
		}
		l.cycle(ctx, stopCh)

		timer := time.NewTimer(l.CheckInterval())
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *Loop) cycle(ctx context.Context, stopCh <-chan struct{}) {
	now := l.now()
	l.mu.Lock()
	l.lastCheck = &now
	l.mu.Unlock()

	msgs, err := l.inbox.ListUnseen(ctx, l.window, l.batchSize)
	if err != nil {
		l.log.Error().Err(apperr.Collaborator("inbox", "list unseen", err)).Msg("fetch failed, skipping cycle")
		return
	}
	if len(msgs) == 0 {
		return
	}
	l.log.Debug().Int("count", len(msgs)).Msg("unseen messages fetched")

	for i := range msgs {
		msg := &msgs[i]
		if stopped(stopCh) {
			return
		}
		if l.ledger.Contains(ctx, msg.ID) {
			continue
		}
		if _, err := l.ProcessOne(ctx, msg); err != nil {
			l.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message left for next cycle")
		}
	}
}

func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var _ in.AutomationService = (*Loop)(nil)
