// Package httpdriver drives a remote automation agent over HTTP. It is the
// collaborator side of the engine's contracts: the agent owns a single
// stateful session (a controlled browser), exposed here as a handle.
//
// Agent surface:
//
//	GET  /healthz                      provider reachability
//	POST /sessions                     create a session, returns {"id": ...}
//	GET  /sessions/{id}/ping           session liveness
//	POST /sessions/{id}/perform        run one item, returns the outcome
package httpdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbergkamp/ratchet/internal/core/domain"
	"github.com/mbergkamp/ratchet/internal/engine"
)

// Config holds the agent endpoint settings.
type Config struct {
	BaseURL string `yaml:"base_url"`
}

// Provider implements engine.ResourceProvider against the agent.
type Provider struct {
	baseURL string
	client  *http.Client
}

// NewProvider creates a provider for the agent at baseURL. The client
// carries no overall timeout; per-call deadlines come from the engine's
// contexts.
func NewProvider(cfg Config) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Reachable probes the agent process itself, not any session.
func (p *Provider) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// GetHandle creates a fresh session on the agent.
func (p *Provider) GetHandle(ctx context.Context) (engine.Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create session: %s", readError(resp))
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if body.ID == "" {
		return nil, fmt.Errorf("agent returned empty session id")
	}

	return &SessionHandle{provider: p, id: body.ID}, nil
}

// SessionHandle is one agent session, implementing engine.Handle.
type SessionHandle struct {
	provider *Provider
	id       string
}

// ID returns the agent-assigned session identity.
func (h *SessionHandle) ID() string { return h.id }

// Ping is the cheapest liveness round-trip against the session. It does
// not mutate session state.
func (h *SessionHandle) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/sessions/%s/ping", h.provider.baseURL, h.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := h.provider.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("session terminated (status %d)", resp.StatusCode)
	default:
		return fmt.Errorf("session ping returned status %d", resp.StatusCode)
	}
}

// Runner implements engine.Operation by delegating each item to the agent.
type Runner struct{}

// NewRunner creates the operation collaborator.
func NewRunner() *Runner {
	return &Runner{}
}

// Perform runs one item against the handle's session, under the deadline
// the engine put on ctx.
func (r *Runner) Perform(ctx context.Context, item domain.WorkItem, handle engine.Handle) (domain.Outcome, error) {
	h, ok := handle.(*SessionHandle)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("httpdriver: unexpected handle type %T", handle)
	}

	reqBody, err := json.Marshal(map[string]any{
		"key":    item.Key,
		"params": item.Params,
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("marshal perform request: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/perform", h.provider.baseURL, h.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("create perform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.provider.client.Do(req)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("perform %q: %w", item.Key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Outcome{}, fmt.Errorf("item %q does not exist on the remote: %s", item.Key, readError(resp))
	case http.StatusForbidden:
		return domain.Outcome{}, fmt.Errorf("access denied for item %q: %s", item.Key, readError(resp))
	case http.StatusConflict:
		return domain.Outcome{}, fmt.Errorf("session terminated: %s", readError(resp))
	default:
		return domain.Outcome{}, fmt.Errorf("perform %q returned status %d: %s", item.Key, resp.StatusCode, readError(resp))
	}

	var body struct {
		Payload     json.RawMessage `json:"payload"`
		NeedsReview bool            `json:"needs_review"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Outcome{}, fmt.Errorf("decode perform response: %w", err)
	}

	return domain.Outcome{Payload: body.Payload, NeedsReview: body.NeedsReview}, nil
}

// readError pulls a short error body for diagnostics.
func readError(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(b) == 0 {
		return resp.Status
	}
	return string(bytes.TrimSpace(b))
}
