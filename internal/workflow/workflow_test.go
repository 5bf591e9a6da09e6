package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partarstu/agentic-qa-framework/internal/adapters"
	"github.com/partarstu/agentic-qa-framework/internal/adapters/fake"
	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/dispatch"
	"github.com/partarstu/agentic-qa-framework/internal/history"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/recovery"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router"
	"github.com/partarstu/agentic-qa-framework/internal/router/oracle"
	"github.com/partarstu/agentic-qa-framework/internal/workerpool"
)

func workerpoolResultCompleted(resultText string) workerpool.Result {
	return workerpool.Result{
		ItemID:     "item-1",
		AgentID:    "agent-1",
		AgentName:  "Agent",
		TaskRecord: model.TaskRecord{Status: model.TaskCompleted, ResultText: resultText},
	}
}

// scriptedTransport returns one scripted result per call, in order,
// keyed by nothing but call sequence - used only by tests that dispatch
// a single agent through a single serial chain.
type scriptedTransport struct {
	mu      sync.Mutex
	calls   int
	results []func(payload any) (chan agentrpc.Event, error)
}

func (s *scriptedTransport) SendMessage(_ context.Context, _ string, payload any) (<-chan agentrpc.Event, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i >= len(s.results) {
		return nil, fmt.Errorf("scriptedTransport: unexpected call %d", i)
	}
	return s.results[i](payload)
}

// keyedTransport picks a response by inspecting the outgoing payload,
// so concurrent calls across labels (unordered by nature) stay
// deterministic.
type keyedTransport struct {
	match func(payload any) (chan agentrpc.Event, error)
}

func (k keyedTransport) SendMessage(_ context.Context, _ string, payload any) (<-chan agentrpc.Event, error) {
	return k.match(payload)
}

func completedEvent(text string) chan agentrpc.Event {
	ch := make(chan agentrpc.Event, 1)
	ch <- agentrpc.Event{Kind: agentrpc.EventTask, Task: model.TaskSnapshot{
		TaskID: "remote",
		State:  model.TaskStateCompleted,
		Artifacts: []model.Artifact{{Parts: []model.Part{
			{Kind: model.PartText, Text: text},
		}}},
	}}
	close(ch)
	return ch
}

type fixedOracle struct{ ids []string }

func (f fixedOracle) SelectOne(context.Context, string, []oracle.Candidate) (string, error) {
	if len(f.ids) == 0 {
		return "", nil
	}
	return f.ids[0], nil
}

func (f fixedOracle) SelectAll(context.Context, string, []oracle.Candidate) ([]string, error) {
	return f.ids, nil
}

// taskKeyedOracle picks candidates by matching a substring of the task
// description against a registered key, the way the heuristic oracle
// matches skill descriptions in production - here the substrings stand
// in for skill text.
type taskKeyedOracle struct {
	byTaskSubstring map[string]string
	fallback        string
}

func (o taskKeyedOracle) SelectOne(_ context.Context, task string, _ []oracle.Candidate) (string, error) {
	for sub, id := range o.byTaskSubstring {
		if strings.Contains(task, sub) {
			return id, nil
		}
	}
	return o.fallback, nil
}

func (o taskKeyedOracle) SelectAll(_ context.Context, task string, _ []oracle.Candidate) ([]string, error) {
	id, _ := o.SelectOne(context.Background(), task, nil)
	if id == "" {
		return nil, nil
	}
	return []string{id}, nil
}

func TestReviewRequirementsOneDispatch(t *testing.T) {
	transport := &scriptedTransport{results: []func(any) (chan agentrpc.Event, error){
		func(any) (chan agentrpc.Event, error) { return completedEvent(`{"approved":true}`), nil },
	}}
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Reviewer", URL: "http://a:9000"})
	rtr := router.New(reg, fixedOracle{ids: []string{id}})
	d := dispatch.New(reg, rtr, transport, history.NewTaskHistory(10), history.NewErrorHistory(10),
		make(chan recovery.Entry, 4), time.Second)
	wc := &Context{Dispatcher: d, Router: rtr, Registry: reg}

	rec, err := ReviewRequirements(context.Background(), wc, "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, rec.Status)
	assert.Equal(t, `{"approved":true}`, rec.ResultText)
	assert.Equal(t, 1, transport.calls)
}

func TestGenerateTestsChainsThreePayloads(t *testing.T) {
	var seenPayloads []any
	transport := &scriptedTransport{results: []func(any) (chan agentrpc.Event, error){
		func(p any) (chan agentrpc.Event, error) {
			seenPayloads = append(seenPayloads, p)
			return completedEvent(`["t1","t2"]`), nil
		},
		func(p any) (chan agentrpc.Event, error) {
			seenPayloads = append(seenPayloads, p)
			return completedEvent(`[{"key":"t1","automation_capability":"automated"}]`), nil
		},
		func(p any) (chan agentrpc.Event, error) {
			seenPayloads = append(seenPayloads, p)
			return completedEvent(`{"reviewed":true}`), nil
		},
	}}
	reg := registry.New()
	id := reg.Register(model.AgentCard{Name: "Generator", URL: "http://a:9000"})
	rtr := router.New(reg, fixedOracle{ids: []string{id}})
	d := dispatch.New(reg, rtr, transport, history.NewTaskHistory(10), history.NewErrorHistory(10),
		make(chan recovery.Entry, 4), time.Second)
	wc := &Context{Dispatcher: d, Router: rtr, Registry: reg}

	rec, err := GenerateTests(context.Background(), wc, "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, `{"reviewed":true}`, rec.ResultText)
	require.Len(t, seenPayloads, 3)

	classifyPayload, ok := seenPayloads[1].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, `["t1","t2"]`, classifyPayload["tests"])

	reviewPayload, ok := seenPayloads[2].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, `[{"key":"t1","automation_capability":"automated"}]`, reviewPayload["classified_tests"])
}

func TestResultFailureDetectsDomainReportedFailureEvenWhenDispatchSucceeded(t *testing.T) {
	r := workerpoolResultCompleted(`{"testExecutionStatus":"failed","generalErrorMessage":"assertion failed"}`)
	failed, msg := resultFailure(r)
	assert.True(t, failed)
	assert.Equal(t, "assertion failed", msg)
}

func TestResultFailureTreatsPassedDomainStatusAsSuccess(t *testing.T) {
	r := workerpoolResultCompleted(`{"testExecutionStatus":"passed"}`)
	failed, _ := resultFailure(r)
	assert.False(t, failed)
}

// A dispatch that completes cleanly but reports a failed test execution
// in its result payload must still be counted as a failure and open an
// incident - the dispatch layer alone has no way to see this.
func TestExecuteTestsFilesIncidentForDomainReportedFailure(t *testing.T) {
	items := []adapters.TestItem{
		{Key: "UI-1", Name: "login renders", Labels: []string{"ui", adapters.MetaLabel}},
	}
	fakeClient := fake.New(map[string][]adapters.TestItem{"PROJ": items})

	reg := registry.New()
	uiAgent := reg.Register(model.AgentCard{Name: "UIAgent", URL: "http://ui:9000"})
	incidentAgent := reg.Register(model.AgentCard{Name: "IncidentAgent", URL: "http://incident:9000"})

	ora := taskKeyedOracle{byTaskSubstring: map[string]string{
		"labeled ui": uiAgent,
		"incident":   incidentAgent,
	}}
	rtr := router.New(reg, ora)

	transport := keyedTransport{match: func(payload any) (chan agentrpc.Event, error) {
		switch p := payload.(type) {
		case map[string]string:
			if p["test_case_key"] == "UI-1" {
				return completedEvent(`{"testExecutionStatus":"failed","generalErrorMessage":"assertion failed"}`), nil
			}
		case map[string]any:
			if _, ok := p["error"]; ok {
				return completedEvent(`{"incident":"filed"}`), nil
			}
		}
		return nil, fmt.Errorf("keyedTransport: no match for payload %#v", payload)
	}}

	d := dispatch.New(reg, rtr, transport, history.NewTaskHistory(20), history.NewErrorHistory(20),
		make(chan recovery.Entry, 10), time.Second)
	wc := &Context{Dispatcher: d, Router: rtr, Registry: reg, TestMgmt: fakeClient, TestReport: fakeClient}

	results, err := ExecuteTests(context.Background(), wc, "PROJ")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Results, 1)
	assert.NoError(t, results[0].Results[0].Err, "dispatch itself succeeded")
	require.Len(t, results[0].Incidents, 1, "a domain-reported test failure must still open an incident")

	reports := fakeClient.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "failed", reports[0].Result.Status)
}

// Two capability labels each get their own single-agent pool; the API
// label's only item fails its dispatch and must be reported as failed
// and get a follow-up incident dispatch against a third, untouched
// agent (an incident dispatch goes through the Router again, not the
// failed pool).
func TestExecuteTestsGroupsReportsAndFilesIncidents(t *testing.T) {
	items := []adapters.TestItem{
		{Key: "UI-1", Name: "login renders", Labels: []string{"ui", adapters.MetaLabel}},
		{Key: "API-1", Name: "token refresh", Labels: []string{"api", adapters.MetaLabel}},
	}
	fakeClient := fake.New(map[string][]adapters.TestItem{"PROJ": items})

	reg := registry.New()
	uiAgent := reg.Register(model.AgentCard{Name: "UIAgent", URL: "http://ui:9000"})
	apiAgent := reg.Register(model.AgentCard{Name: "APIAgent", URL: "http://api:9000"})
	incidentAgent := reg.Register(model.AgentCard{Name: "IncidentAgent", URL: "http://incident:9000"})

	ora := taskKeyedOracle{byTaskSubstring: map[string]string{
		"labeled ui":  uiAgent,
		"labeled api": apiAgent,
		"incident":    incidentAgent,
	}}
	rtr := router.New(reg, ora)

	transport := keyedTransport{match: func(payload any) (chan agentrpc.Event, error) {
		switch p := payload.(type) {
		case map[string]string:
			if p["test_case_key"] == "UI-1" {
				return completedEvent(`{"status":"passed"}`), nil
			}
			if p["test_case_key"] == "API-1" {
				return nil, fmt.Errorf("connection refused")
			}
		case map[string]any:
			if _, ok := p["error"]; ok {
				return completedEvent(`{"incident":"filed"}`), nil
			}
		}
		return nil, fmt.Errorf("keyedTransport: no match for payload %#v", payload)
	}}

	d := dispatch.New(reg, rtr, transport, history.NewTaskHistory(20), history.NewErrorHistory(20),
		make(chan recovery.Entry, 10), time.Second)
	wc := &Context{Dispatcher: d, Router: rtr, Registry: reg, TestMgmt: fakeClient, TestReport: fakeClient}

	results, err := ExecuteTests(context.Background(), wc, "PROJ")
	require.NoError(t, err)
	require.Len(t, results, 2)

	var total, failures, incidents int
	for _, r := range results {
		total += len(r.Results)
		for _, item := range r.Results {
			if item.Err != nil {
				failures++
			}
		}
		incidents += len(r.Incidents)
	}
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, incidents)

	reports := fakeClient.Reports()
	assert.Len(t, reports, 2)
}
