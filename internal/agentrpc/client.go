// Package agentrpc is the southbound transport to remote agents:
// agent-card fetch, reachability probe, and the streaming
// send_message/cancel_task RPCs, built around a websocket Frame
// envelope repurposed from an inbound hub accepting agent connections
// into an outbound client dialing agent URLs.
package agentrpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/partarstu/agentic-qa-framework/internal/model"
)

// Frame is the wire envelope exchanged with an agent over the RPC
// websocket.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  any    `json:"params,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventKind distinguishes the abstract Event variants.
type EventKind string

const (
	EventTask     EventKind = "task"
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
)

// Event is one decoded item from an agent's streaming response, one of
// TaskSnapshot | ProgressMessage | Error.
type Event struct {
	Kind     EventKind
	Task     model.TaskSnapshot
	Progress string
	Err      error
}

// Client talks the orchestrator's southbound agent RPC contract.
type Client struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	probeTimeout time.Duration
}

// NewClient constructs an agentrpc.Client. The HTTP transport speaks
// h2c (HTTP/2 cleartext) so agents that only expose an h2c endpoint
// for card fetch/probe remain reachable, per SPEC_FULL.md's Discovery
// component.
func NewClient() *Client {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &Client{
		httpClient:   &http.Client{Transport: transport, Timeout: 10 * time.Second},
		dialer:       websocket.DefaultDialer,
		probeTimeout: 5 * time.Second,
	}
}

// FetchCard fetches the agent card at <baseURL>/.well-known/agent-card.json.
func (c *Client) FetchCard(ctx context.Context, baseURL string) (model.AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/.well-known/agent-card.json", nil)
	if err != nil {
		return model.AgentCard{}, fmt.Errorf("building card request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.AgentCard{}, fmt.Errorf("fetching agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.AgentCard{}, fmt.Errorf("fetching agent card: unexpected status %d", resp.StatusCode)
	}
	var card model.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return model.AgentCard{}, fmt.Errorf("decoding agent card: %w", err)
	}
	card.URL = baseURL
	return card, nil
}

// Probe is a cheap reachability check: a short-timeout GET of the
// card endpoint, standing in for a cheap HEAD-style request.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/.well-known/agent-card.json", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: unexpected status %d", baseURL, resp.StatusCode)
	}
	return nil
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing agent url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rpc"
	return u.String(), nil
}

func (c *Client) call(ctx context.Context, baseURL, method string, params any) (<-chan Event, error) {
	target, err := wsURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing agent %s: %w", baseURL, err)
	}

	req := Frame{Type: "req", ID: uuid.NewString(), Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encoding request frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending request frame: %w", err)
	}

	events := make(chan Event, 16)
	go c.readEvents(conn, events)
	return events, nil
}

// SendMessage opens a streaming RPC to baseURL carrying payload,
// returning a channel of decoded events. The channel closes when the
// agent reaches a terminal task state, sends a JSON-RPC error, or the
// stream ends.
func (c *Client) SendMessage(ctx context.Context, baseURL string, payload any) (<-chan Event, error) {
	return c.call(ctx, baseURL, "send_message", payload)
}

// CancelTask issues a cancel_task RPC for taskID and returns the single
// resulting event (a task snapshot with state "canceled" on success,
// or an error event).
func (c *Client) CancelTask(ctx context.Context, baseURL, taskID string) (Event, error) {
	events, err := c.call(ctx, baseURL, "cancel_task", map[string]string{"task_id": taskID})
	if err != nil {
		return Event{}, err
	}
	select {
	case e, ok := <-events:
		if !ok {
			return Event{}, fmt.Errorf("cancel_task: stream closed with no response")
		}
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (c *Client) readEvents(conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			events <- Event{Kind: EventError, Err: fmt.Errorf("decoding frame: %w", err)}
			return
		}

		switch frame.Type {
		case "event":
			progress, _ := frame.Payload.(string)
			events <- Event{Kind: EventProgress, Progress: progress}
			continue
		case "res":
			if !frame.OK {
				msg := frame.Error
				if msg == "" {
					msg = "agent returned an error response"
				}
				events <- Event{Kind: EventError, Err: fmt.Errorf("%s", msg)}
				return
			}
			snapshot, err := decodeTaskSnapshot(frame.Payload)
			if err != nil {
				events <- Event{Kind: EventError, Err: err}
				return
			}
			events <- Event{Kind: EventTask, Task: snapshot}
			if snapshot.State.IsTerminal() {
				return
			}
			continue
		default:
			continue
		}
	}
}

func decodeTaskSnapshot(payload any) (model.TaskSnapshot, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.TaskSnapshot{}, fmt.Errorf("re-encoding task payload: %w", err)
	}
	var snap struct {
		TaskID    string             `json:"task_id"`
		State     model.TaskState    `json:"state"`
		Artifacts []model.Artifact   `json:"artifacts"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.TaskSnapshot{}, fmt.Errorf("decoding task payload: %w", err)
	}
	return model.TaskSnapshot{TaskID: snap.TaskID, State: snap.State, Artifacts: snap.Artifacts}, nil
}
