package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/history"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/orcherr"
	"github.com/partarstu/agentic-qa-framework/internal/recovery"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router"
	"github.com/partarstu/agentic-qa-framework/internal/router/oracle"
)

type stubTransport struct {
	events chan agentrpc.Event
	err    error
}

func (s stubTransport) SendMessage(ctx context.Context, baseURL string, payload any) (<-chan agentrpc.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

type stubOracle struct{ id string }

func (s stubOracle) SelectOne(context.Context, string, []oracle.Candidate) (string, error) {
	return s.id, nil
}
func (s stubOracle) SelectAll(context.Context, string, []oracle.Candidate) ([]string, error) {
	if s.id == "" {
		return nil, nil
	}
	return []string{s.id}, nil
}

func newHarness(t *testing.T, transport Transport, ora oracle.Oracle) (*Dispatcher, *registry.Registry, chan recovery.Entry) {
	t.Helper()
	reg := registry.New()
	rtr := router.New(reg, ora)
	tasks := history.NewTaskHistory(10)
	errs := history.NewErrorHistory(10)
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, rtr, transport, tasks, errs, recCh, 200*time.Millisecond)
	return d, reg, recCh
}

// S1: happy path, one available agent, a successful completed run.
func TestDispatchHappyPath(t *testing.T) {
	events := make(chan agentrpc.Event, 2)
	events <- agentrpc.Event{Kind: agentrpc.EventProgress, Progress: "working"}
	events <- agentrpc.Event{Kind: agentrpc.EventTask, Task: model.TaskSnapshot{
		TaskID: "remote-1",
		State:  model.TaskStateCompleted,
		Artifacts: []model.Artifact{{Parts: []model.Part{
			{Kind: model.PartText, Text: `{"ok":true}`},
		}}},
	}}
	close(events)

	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Reviewer", URL: "http://agent-a:9000"})
	rtr := router.New(reg, stubOracle{id: id})
	tasks := history.NewTaskHistory(10)
	errs := history.NewErrorHistory(10)
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, rtr, stubTransport{events: events}, tasks, errs, recCh, time.Second)

	rec, err := d.Dispatch(context.Background(), map[string]string{"issue_key": "PROJ-1"}, "review PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, rec.Status)
	assert.Equal(t, "review PROJ-1", rec.Description)
	assert.Equal(t, `{"ok":true}`, rec.ResultText)

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, snap.Status)
	assert.Empty(t, snap.Context.CurrentTaskID)
	assert.Empty(t, recCh, "no recovery entry expected on success")
}

// Empty registry must short-circuit to NoAgents without entering the
// wait-and-reserve loop at all.
func TestDispatchEmptyRegistryIsNoAgents(t *testing.T) {
	d, _, _ := newHarness(t, stubTransport{}, stubOracle{})

	_, err := d.Dispatch(context.Background(), nil, "anything")
	require.Error(t, err)
	oe, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindNoAgents, oe.Kind)
}

// S2: the single agent never produces a terminal event before the
// deadline; Dispatch must time out, demote the agent to
// BROKEN(TASK_STUCK), and enqueue it for recovery.
func TestDispatchTimeoutDemotesAgentAndEnqueuesRecovery(t *testing.T) {
	events := make(chan agentrpc.Event) // never written to, never closed

	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Reviewer", URL: "http://agent-a:9000"})
	rtr := router.New(reg, stubOracle{id: id})
	tasks := history.NewTaskHistory(10)
	errs := history.NewErrorHistory(10)
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, rtr, stubTransport{events: events}, tasks, errs, recCh, 50*time.Millisecond)

	_, err := d.Dispatch(context.Background(), nil, "review PROJ-1")
	require.Error(t, err)
	oe, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindTimedOut, oe.Kind)

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusBroken, snap.Status)
	assert.Equal(t, model.BrokenReasonTaskStuck, snap.Context.BrokenReason)

	select {
	case e := <-recCh:
		assert.Equal(t, id, e.AgentID)
	default:
		t.Fatal("expected a recovery entry to be enqueued")
	}
}

// All agents BROKEN: reserve must retry until the task-execution
// deadline, then surface ReservationTimeout rather than NoAgents.
func TestDispatchAllBrokenEventuallyReservationTimeout(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Reviewer", URL: "http://agent-a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonOffline, "")

	rtr := router.New(reg, stubOracle{id: id})
	tasks := history.NewTaskHistory(10)
	errs := history.NewErrorHistory(10)
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, rtr, stubTransport{}, tasks, errs, recCh, 100*time.Millisecond)

	_, err := d.Dispatch(context.Background(), nil, "review PROJ-1")
	require.Error(t, err)
	oe, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindReservationTimeout, oe.Kind)
}

// A transport-level failure (dial refused, connection reset) must
// demote the agent to BROKEN(OFFLINE) and enqueue it for recovery.
func TestDispatchTransportFailureDemotesAgentOffline(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Reviewer", URL: "http://agent-a:9000"})
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, router.New(reg, stubOracle{id: id}), stubTransport{err: fmt.Errorf("connection refused")},
		history.NewTaskHistory(10), history.NewErrorHistory(10), recCh, time.Second)

	_, err := d.Dispatch(context.Background(), nil, "review PROJ-1")
	require.Error(t, err)
	oe, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindAgentCrashed, oe.Kind)

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusBroken, snap.Status)
	assert.Equal(t, model.BrokenReasonOffline, snap.Context.BrokenReason)
}

// With one agent already reserved (BUSY) by another dispatch, Dispatch
// must skip it, reserve the AVAILABLE agent the oracle picks, and
// complete without panicking or deadlocking. The oracle here always
// answers with the free agent, so the retry after a stale answer is
// not exercised.
func TestDispatchSkipsStaleReservation(t *testing.T) {
	events := make(chan agentrpc.Event, 1)
	events <- agentrpc.Event{Kind: agentrpc.EventTask, Task: model.TaskSnapshot{
		TaskID: "remote-1",
		State:  model.TaskStateCompleted,
	}}
	close(events)

	reg := registry.New()
	busyID := reg.Register(model.AgentCard{Name: "Busy", URL: "http://busy:9000"})
	reg.Reserve(busyID) // now BUSY, ineligible
	freeID := reg.Register(model.AgentCard{Name: "Free", URL: "http://free:9000"})

	rtr := router.New(reg, stubOracle{id: freeID})
	tasks := history.NewTaskHistory(10)
	errs := history.NewErrorHistory(10)
	recCh := make(chan recovery.Entry, 4)
	d := New(reg, rtr, stubTransport{events: events}, tasks, errs, recCh, time.Second)

	rec, err := d.Dispatch(context.Background(), nil, "review PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, rec.Status)
}
