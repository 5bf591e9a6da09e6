// Package fake implements an in-memory TestManagementClient and
// TestReportingClient, sufficient to drive execute-tests end-to-end
// without a proprietary SaaS backend (TEST_MANAGEMENT_BACKEND=fake, the
// default per SPEC_FULL.md).
package fake

import (
	"context"
	"sync"

	"github.com/partarstu/agentic-qa-framework/internal/adapters"
)

// Client is a thread-safe in-memory stand-in for both adapter
// interfaces, seeded with a fixed item list per project key.
type Client struct {
	mu      sync.Mutex
	items   map[string][]adapters.TestItem
	reports []Report
}

// Report is one recorded ReportResult call, kept for test assertions.
type Report struct {
	Item   adapters.TestItem
	Result adapters.TestExecutionResult
}

// New constructs a Client seeded with items. Pass nil or an empty map
// to start with no projects; Seed adds more afterward.
func New(items map[string][]adapters.TestItem) *Client {
	if items == nil {
		items = make(map[string][]adapters.TestItem)
	}
	return &Client{items: items}
}

// Seed registers the item list for a project key, replacing any
// existing list.
func (c *Client) Seed(projectKey string, items []adapters.TestItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[projectKey] = items
}

// ListItems implements adapters.TestManagementClient.
func (c *Client) ListItems(_ context.Context, projectKey string) ([]adapters.TestItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]adapters.TestItem, len(c.items[projectKey]))
	copy(out, c.items[projectKey])
	return out, nil
}

// ReportResult implements adapters.TestReportingClient.
func (c *Client) ReportResult(_ context.Context, item adapters.TestItem, result adapters.TestExecutionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, Report{Item: item, Result: result})
	return nil
}

// Reports returns every recorded ReportResult call, in call order.
func (c *Client) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

var (
	_ adapters.TestManagementClient = (*Client)(nil)
	_ adapters.TestReportingClient  = (*Client)(nil)
)
