// Package workflow composes the Dispatcher, Router, and Worker-Pool
// Scheduler into the four workflow endpoints: review, generate tests,
// execute tests, and update index. Each handler composes against a
// shared Context carrying the orchestrator core plus the
// test-management adapters.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/partarstu/agentic-qa-framework/internal/adapters"
	"github.com/partarstu/agentic-qa-framework/internal/dispatch"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/orcherr"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router"
	"github.com/partarstu/agentic-qa-framework/internal/workerpool"
)

// Context is the shared handle every workflow function composes
// against.
type Context struct {
	Dispatcher *dispatch.Dispatcher
	Router     *router.Router
	Registry   *registry.Registry
	TestMgmt   adapters.TestManagementClient
	TestReport adapters.TestReportingClient
}

// ReviewRequirements is POST /review-requirements: one dispatch asking
// an agent to review the user story named by issueKey.
func ReviewRequirements(ctx context.Context, wc *Context, issueKey string) (model.TaskRecord, error) {
	desc := fmt.Sprintf("Review the user story %s", issueKey)
	return wc.Dispatcher.Dispatch(ctx, map[string]string{"issue_key": issueKey}, desc)
}

// GenerateTests is POST /generate-tests: a serial generate -> classify
// -> review chain, each stage's request payload carrying the previous
// stage's ResultText as the workflow-specific JSON payload to hand
// downstream to the next dispatch.
func GenerateTests(ctx context.Context, wc *Context, issueKey string) (model.TaskRecord, error) {
	generated, err := wc.Dispatcher.Dispatch(ctx,
		map[string]string{"issue_key": issueKey},
		fmt.Sprintf("Generate tests for user story %s", issueKey))
	if err != nil {
		return model.TaskRecord{}, err
	}

	classified, err := wc.Dispatcher.Dispatch(ctx,
		map[string]string{"issue_key": issueKey, "tests": generated.ResultText},
		fmt.Sprintf("Classify generated tests for user story %s", issueKey))
	if err != nil {
		return model.TaskRecord{}, err
	}

	reviewed, err := wc.Dispatcher.Dispatch(ctx,
		map[string]string{"issue_key": issueKey, "classified_tests": classified.ResultText},
		fmt.Sprintf("Review classified tests for user story %s", issueKey))
	if err != nil {
		return model.TaskRecord{}, err
	}
	return reviewed, nil
}

// UpdateIndex is POST /update-index: a single dispatch. The agent is
// trusted to drive its own sync loop; the orchestrator adds no vector
// DB logic of its own.
func UpdateIndex(ctx context.Context, wc *Context, projectKey string) (model.TaskRecord, error) {
	desc := fmt.Sprintf("Sync the test-case index for project %s", projectKey)
	return wc.Dispatcher.Dispatch(ctx, map[string]string{"project_key": projectKey}, desc)
}

// ExecuteResult is one label-pool's outcome plus the incident dispatch
// created for every failed item within it.
type ExecuteResult struct {
	Label     string
	Results   []workerpool.Result
	Incidents []model.TaskRecord
}

// ExecuteTests is POST /execute-tests: fetch the project's test items,
// group by capability label (excluding the automation meta-label),
// route and run each label's pool in parallel, report every outcome to
// the test-management backend, and open an incident dispatch for every
// failed item, attaching its returned file artifacts.
func ExecuteTests(ctx context.Context, wc *Context, projectKey string) ([]ExecuteResult, error) {
	items, err := wc.TestMgmt.ListItems(ctx, projectKey)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindAdapterFailure, "failed to fetch test items", err)
	}

	byLabel := adapters.GroupByLabel(items)
	byKey := make(map[string]adapters.TestItem, len(items))
	for _, it := range items {
		byKey[it.Key] = it
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}

	var wg sync.WaitGroup
	out := make([]ExecuteResult, len(labels))
	for i, label := range labels {
		wg.Add(1)
		go func(i int, label string, labelItems []adapters.TestItem) {
			defer wg.Done()
			out[i] = runLabel(ctx, wc, label, labelItems, byKey)
		}(i, label, byLabel[label])
	}
	wg.Wait()
	return out, nil
}

func runLabel(ctx context.Context, wc *Context, label string, items []adapters.TestItem, byKey map[string]adapters.TestItem) ExecuteResult {
	agentIDs, err := wc.Router.SelectAll(ctx, fmt.Sprintf("Execute tests labeled %s", label))
	if err != nil || len(agentIDs) == 0 {
		return ExecuteResult{Label: label}
	}

	poolItems := make([]workerpool.Item, len(items))
	for i, it := range items {
		poolItems[i] = workerpool.Item{
			ID:          it.Key,
			Description: fmt.Sprintf("Execute test %s (%s)", it.Key, it.Name),
			Payload:     map[string]string{"test_case_key": it.Key, "test_case_name": it.Name},
		}
	}

	results := workerpool.Run(ctx, wc.Registry, wc.Dispatcher, agentIDs, poolItems)
	reportResults(ctx, wc, results, byKey)
	incidents := createIncidents(ctx, wc, results, byKey)

	return ExecuteResult{Label: label, Results: results, Incidents: incidents}
}

// resultFailure reports whether r counts as a failed test execution
// and the message to attach, checking three things in order: a
// dispatch-level error, a dispatch that terminated TaskFailed, and
// finally the agent's own reported testExecutionStatus. The last case
// is what lets a dispatch that completed cleanly but reported a failed
// or errored test still count as a failure: the agent ran the test and
// it didn't pass, which the dispatch layer has no way to see on its
// own.
func resultFailure(r workerpool.Result) (failed bool, errMsg string) {
	if r.Err != nil {
		return true, r.Err.Error()
	}
	if r.TaskRecord.Status == model.TaskFailed {
		return true, r.TaskRecord.ErrorMessage
	}
	if domainFailed, msg, ok := adapters.ParseExecutionStatus(r.TaskRecord.ResultText); ok && domainFailed {
		return true, msg
	}
	return false, ""
}

// reportResults files every item's outcome back to the test-management
// backend, run concurrently since each call is independent.
func reportResults(ctx context.Context, wc *Context, results []workerpool.Result, byKey map[string]adapters.TestItem) {
	if wc.TestReport == nil {
		return
	}
	var wg sync.WaitGroup
	for _, r := range results {
		wg.Add(1)
		go func(r workerpool.Result) {
			defer wg.Done()
			item := byKey[r.ItemID]
			status := "passed"
			failed, errMsg := resultFailure(r)
			if failed {
				status = "failed"
			}
			wc.TestReport.ReportResult(ctx, item, adapters.TestExecutionResult{
				TestCaseKey:         item.Key,
				TestCaseName:        item.Name,
				Status:              status,
				GeneralErrorMessage: errMsg,
				Artifacts:           r.TaskRecord.Files,
			})
		}(r)
	}
	wg.Wait()
}

// createIncidents opens one fresh dispatch per failed result (dispatch
// failures and domain-reported test failures alike), attaching every
// file artifact the failed execution returned.
func createIncidents(ctx context.Context, wc *Context, results []workerpool.Result, byKey map[string]adapters.TestItem) []model.TaskRecord {
	type failure struct {
		result workerpool.Result
		errMsg string
	}
	var failed []failure
	for _, r := range results {
		if ok, msg := resultFailure(r); ok {
			failed = append(failed, failure{result: r, errMsg: msg})
		}
	}
	if len(failed) == 0 {
		return nil
	}

	incidents := make([]model.TaskRecord, len(failed))
	var wg sync.WaitGroup
	for i, f := range failed {
		wg.Add(1)
		go func(i int, f failure) {
			defer wg.Done()
			item := byKey[f.result.ItemID]
			desc := fmt.Sprintf("Create an incident for failed test %s (%s): %s", item.Key, item.Name, f.errMsg)
			rec, err := wc.Dispatcher.Dispatch(ctx, map[string]any{
				"test_case_key":  item.Key,
				"test_case_name": item.Name,
				"error":          f.errMsg,
				"files":          f.result.TaskRecord.Files,
			}, desc)
			if err == nil {
				incidents[i] = rec
			}
		}(i, f)
	}
	wg.Wait()
	return incidents
}
