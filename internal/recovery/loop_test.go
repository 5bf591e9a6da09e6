package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
)

type stubTransport struct {
	probeErr    error
	cancelErr   error
	cancelState model.TaskState
}

func (s stubTransport) Probe(ctx context.Context, baseURL string) error { return s.probeErr }

func (s stubTransport) CancelTask(ctx context.Context, baseURL, taskID string) (agentrpc.Event, error) {
	if s.cancelErr != nil {
		return agentrpc.Event{}, s.cancelErr
	}
	state := s.cancelState
	if state == "" {
		state = model.TaskStateCanceled
	}
	return agentrpc.Event{Kind: agentrpc.EventTask, Task: model.TaskSnapshot{TaskID: taskID, State: state}}, nil
}

func TestRecoverOfflineAgentOnSuccessfulProbe(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonOffline, "")

	l := NewLoop(reg, stubTransport{}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, snap.Status)
}

func TestRecoverOfflineAgentRequeuesOnFailedProbe(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonOffline, "")

	l := NewLoop(reg, stubTransport{probeErr: fmt.Errorf("unreachable")}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusBroken, snap.Status, "still broken until the delayed re-probe succeeds")
}

func TestRecoverTaskStuckOnAckedCancel(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonTaskStuck, "remote-1")

	l := NewLoop(reg, stubTransport{}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, snap.Status)
}

func TestRecoverTaskStuckFallsBackToProbeWhenCancelRejected(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonTaskStuck, "remote-1")

	l := NewLoop(reg, stubTransport{cancelState: model.TaskStateRejected}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, snap.Status,
		"a rejected cancel response is not a genuine ack, but the agent is still reachable via probe")
}

func TestRecoverTaskStuckFallsBackToProbeWhenCancelUnacked(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonTaskStuck, "remote-1")

	l := NewLoop(reg, stubTransport{cancelErr: fmt.Errorf("no response")}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, snap.Status, "reachable even though the cancel itself was never acked")
}

func TestRecoverTaskStuckDowngradesToOfflineWhenUnreachable(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonTaskStuck, "remote-1")

	l := NewLoop(reg, stubTransport{cancelErr: fmt.Errorf("no response"), probeErr: fmt.Errorf("unreachable")}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now()})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusBroken, snap.Status)
	assert.Equal(t, model.BrokenReasonOffline, snap.Context.BrokenReason)
}

func TestGiveUpAfterCeiling(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonOffline, "")

	l := NewLoop(reg, stubTransport{probeErr: fmt.Errorf("unreachable")}, 4)
	l.handle(context.Background(), Entry{AgentID: id, EnqueuedAt: time.Now().Add(-25 * time.Hour)})

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusBroken, snap.Status)
}

func TestRunDrainsChannelUntilContextCancelled(t *testing.T) {
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "A", URL: "http://a:9000"})
	reg.UpdateStatus(id, model.StatusBroken, model.BrokenReasonOffline, "")

	l := NewLoop(reg, stubTransport{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	l.Channel() <- Entry{AgentID: id, EnqueuedAt: time.Now()}
	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.Status == model.StatusAvailable
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
