package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// gateConnector blocks Connect until release is closed.
type gateConnector struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gateConnector) Name() string { return "gate" }
func (c *gateConnector) Connect(context.Context) error {
	close(c.entered)
	<-c.release
	return nil
}

type countingConnector struct{ calls atomic.Int32 }

func (c *countingConnector) Name() string { return "counting" }
func (c *countingConnector) Connect(context.Context) error {
	c.calls.Add(1)
	return nil
}

func stopLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
}

func TestLoop_ProcessesInbox(t *testing.T) {
	h := newHarness(
		msg("m1", "Question", "How do I export my data?"),
		msg("m2", "Save fails", "The app shows an error when I save"),
	)
	l := h.loop()

	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)

	require.Eventually(t, func() bool { return h.ledger.Count() == 2 }, waitFor, tick)

	st := l.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 2, st.ProcessedCount)
	assert.Equal(t, 0.01, st.CheckInterval)
	require.NotNil(t, st.LastCheck)
	assert.Equal(t, 2, h.outbox.count())
}

func TestLoop_SameMessageAcrossCyclesSentOnce(t *testing.T) {
	m := msg("m1", "Save fails", "The app shows an error when I save")
	h := newHarness(m)
	// never marked read, so every cycle sees it again
	h.inbox.markErr = errors.New("gmail: 500")
	l := h.loop()

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return h.inbox.calls() >= 4 }, waitFor, tick)
	stopLoop(t, l)

	assert.Equal(t, 1, h.outbox.count())
	assert.Equal(t, 1, h.ticketing.count())
	assert.Len(t, h.log.ofType(domain.InteractionEmailProcessed), 1)
}

func TestLoop_ScenarioD_StopFinishesInflightMessage(t *testing.T) {
	h := newHarness(
		msg("m1", "Question", "How do I export my data?"),
		msg("m2", "Question", "How do I change my plan?"),
	)
	h.outbox.entered = make(chan string, 2)
	h.outbox.release = make(chan struct{})
	l := h.loop()

	require.NoError(t, l.Start(context.Background()))

	select {
	case to := <-h.outbox.entered:
		assert.Equal(t, "m1@customer.example", to)
	case <-time.After(waitFor):
		t.Fatal("first message never reached the outbox")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		stopped <- l.Stop(ctx)
	}()

	require.Eventually(t, func() bool { return l.State() == StateStopping }, waitFor, tick)
	assert.False(t, l.Status().IsRunning)

	close(h.outbox.release)
	require.NoError(t, <-stopped)

	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, 1, h.outbox.count(), "in-flight reply completes")
	assert.True(t, h.ledger.Contains(context.Background(), "m1"))
	assert.False(t, h.ledger.Contains(context.Background(), "m2"), "no message started after stop")
	assert.Equal(t, 1, h.inbox.calls(), "no new cycle after stop")
}

func TestLoop_InitializationFailure(t *testing.T) {
	h := newHarness()
	l := h.loop(&fakeConnector{name: "gmail", err: errors.New("invalid_grant")})

	err := l.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInitialization))
	assert.Contains(t, err.Error(), "gmail")
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, l.Status().IsRunning)
	assert.Zero(t, h.inbox.calls())
}

func TestLoop_RedundantStartIsNoop(t *testing.T) {
	h := newHarness()
	conn := &countingConnector{}
	l := h.loop(conn)

	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)
	require.NoError(t, l.Start(context.Background()))

	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, StateRunning, l.State())
}

func TestLoop_RestartAfterStop(t *testing.T) {
	h := newHarness()
	conn := &countingConnector{}
	l := h.loop(conn)

	require.NoError(t, l.Start(context.Background()))
	stopLoop(t, l)
	assert.Equal(t, StateStopped, l.State())

	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)
	assert.Equal(t, StateRunning, l.State())
	assert.Equal(t, int32(2), conn.calls.Load())
}

func TestLoop_StopWhenStoppedIsNoop(t *testing.T) {
	l := newHarness().loop()
	assert.NoError(t, l.Stop(context.Background()))
	assert.Nil(t, l.Done())
}

func TestLoop_StopWhileStartingIsHonored(t *testing.T) {
	h := newHarness(msg("m1", "Question", "How do I export my data?"))
	gate := &gateConnector{entered: make(chan struct{}), release: make(chan struct{})}
	l := h.loop(gate)

	startErr := make(chan error, 1)
	go func() { startErr <- l.Start(context.Background()) }()
	<-gate.entered
	assert.Equal(t, StateStarting, l.State())

	stopErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		stopErr <- l.Stop(ctx)
	}()

	select {
	case <-stopErr:
		t.Fatal("stop returned before start finished connecting")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-startErr)
	require.NoError(t, <-stopErr)

	assert.Equal(t, StateStopped, l.State())
	assert.Nil(t, l.Done(), "polling never started")
	assert.Zero(t, h.inbox.calls())

	// the pending stop does not leak into the next start
	gate2 := &gateConnector{entered: make(chan struct{}), release: make(chan struct{})}
	close(gate2.release)
	l.connectors = []out.Connector{gate2}
	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)
	assert.Equal(t, StateRunning, l.State())
}

func TestLoop_FetchErrorSkipsOnlyThatCycle(t *testing.T) {
	h := newHarness(msg("m1", "Question", "How do I export my data?"))
	h.inbox.setListErr(errors.New("gmail: 503 backend error"))
	l := h.loop()

	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)

	require.Eventually(t, func() bool { return h.inbox.calls() >= 2 }, waitFor, tick)
	assert.Equal(t, StateRunning, l.State())
	assert.Zero(t, h.ledger.Count())

	h.inbox.setListErr(nil)
	require.Eventually(t, func() bool { return h.ledger.Count() == 1 }, waitFor, tick)
}

func TestLoop_SetCheckInterval(t *testing.T) {
	h := newHarness()
	l := h.loop()
	l.SetCheckInterval(time.Minute)
	assert.Equal(t, 60.0, l.Status().CheckInterval, "reported in seconds")

	l.SetCheckInterval(0)
	assert.Equal(t, time.Minute, l.CheckInterval())

	require.NoError(t, l.Start(context.Background()))
	defer stopLoop(t, l)

	// a long sleep is cut short by a new interval
	require.Eventually(t, func() bool { return h.inbox.calls() == 1 }, waitFor, tick)
	l.SetCheckInterval(10 * time.Millisecond)
	require.Eventually(t, func() bool { return h.inbox.calls() >= 2 }, waitFor, tick)
}

func TestLoop_ProcessOneSharesLedger(t *testing.T) {
	m := msg("m1", "Question", "How do I export my data?")
	h := newHarness(m)
	h.inbox.markErr = errors.New("gmail: 500")
	l := h.loop()

	res, err := l.ProcessOne(context.Background(), &m)
	require.NoError(t, err)
	require.True(t, res.Processed)

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return h.inbox.calls() >= 2 }, waitFor, tick)
	stopLoop(t, l)

	assert.Equal(t, 1, h.outbox.count())
}
