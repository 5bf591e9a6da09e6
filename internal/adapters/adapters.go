// Package adapters names the narrow external-collaborator interfaces
// for the test management backend (listing items and reporting
// results), so that the execute-tests workflow is fully implementable
// against a concrete contract. No vector database interface is defined
// here. Real
// backends (Xray, Zephyr, Allure) are not implemented here — see
// DESIGN.md; the fake
// in-memory adapter in the fake subpackage is the default.
package adapters

import (
	"context"
	"encoding/json"

	"github.com/partarstu/agentic-qa-framework/internal/model"
)

// MetaLabel is the capability label execute-tests never groups work by:
// it marks automation metadata on a TestItem (e.g. "automated"), not a
// capability a worker pool is matched against.
const MetaLabel = "automated"

// TestItem is one test case fetched from the test-management backend,
// grounded on original_source/common/models.py's TestCase.
type TestItem struct {
	Key    string
	Name   string
	Labels []string
}

// TestExecutionResult is the per-item outcome reported back to the test
// -management backend, grounded on original_source's TestExecutionResult.
type TestExecutionResult struct {
	TestCaseKey         string
	TestCaseName        string
	Status              string // "passed" | "failed" | "error"
	GeneralErrorMessage string
	Artifacts           []model.FilePart
}

// TestManagementClient fetches the work list for a project's
// execute-tests run.
type TestManagementClient interface {
	ListItems(ctx context.Context, projectKey string) ([]TestItem, error)
}

// TestReportingClient files one item's execution outcome back to the
// test-management backend.
type TestReportingClient interface {
	ReportResult(ctx context.Context, item TestItem, result TestExecutionResult) error
}

// executionOutcome is the shape of the JSON a test-execution agent
// returns as its result text, grounded on original_source's
// TestExecutionResult. A dispatch can terminate with TaskCompleted
// while this payload still reports "failed" or "error" — the agent
// ran the test and it didn't pass, which is not the same thing as the
// dispatch itself failing.
type executionOutcome struct {
	TestExecutionStatus string `json:"testExecutionStatus"`
	GeneralErrorMessage string `json:"generalErrorMessage"`
}

// ParseExecutionStatus decodes resultText as an executionOutcome and
// reports whether the domain-level test execution failed ("failed" or
// "error") along with its general error message. ok is false when
// resultText isn't a decodable executionOutcome, meaning the caller
// should fall back to the dispatch's own status/error instead.
func ParseExecutionStatus(resultText string) (failed bool, errMsg string, ok bool) {
	if resultText == "" {
		return false, "", false
	}
	var outcome executionOutcome
	if err := json.Unmarshal([]byte(resultText), &outcome); err != nil {
		return false, "", false
	}
	if outcome.TestExecutionStatus == "" {
		return false, "", false
	}
	failed = outcome.TestExecutionStatus == "failed" || outcome.TestExecutionStatus == "error"
	return failed, outcome.GeneralErrorMessage, true
}

// GroupByLabel buckets items by every capability label they carry,
// except MetaLabel. An item carrying more than one capability
// label is placed in every matching bucket.
func GroupByLabel(items []TestItem) map[string][]TestItem {
	out := make(map[string][]TestItem)
	for _, item := range items {
		for _, label := range item.Labels {
			if label == MetaLabel {
				continue
			}
			out[label] = append(out[label], item)
		}
	}
	return out
}
