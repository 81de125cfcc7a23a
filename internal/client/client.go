// Package client submits activity logs to the server and replays the
// durable queue.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/models"
)

// Outcome classifies one submission attempt.
type Outcome int

const (
	// OutcomeRetry means the server state is unknown or temporarily
	// unavailable. The item must stay queued.
	OutcomeRetry Outcome = iota
	OutcomeCommitted
	// OutcomeDuplicate means the key was already committed by an earlier
	// attempt. It is as final as OutcomeCommitted.
	OutcomeDuplicate
	// OutcomeRejected is a permanent refusal. Resending the same payload
	// cannot succeed.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	default:
		return "retry"
	}
}

// Definitive reports whether the item can leave the queue.
func (o Outcome) Definitive() bool {
	return o != OutcomeRetry
}

// Result is the classified response to one attempt.
type Result struct {
	Outcome Outcome
	Status  int
	Receipt *models.Receipt
	// Error is the server's structured error, when it sent one.
	Error *models.ErrorBody
	// Err is the transport failure behind an OutcomeRetry, if any.
	Err error
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	timeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: constants.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends payload as caller. Online submissions and replays use this
// same request so the server sees one contract.
func (c *Client) Submit(ctx context.Context, caller string, payload []byte) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+constants.ActivityLogsPath, bytes.NewReader(payload))
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.CallerHeader, caller)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxSubmissionBytes))
	if err != nil {
		return Result{Outcome: OutcomeRetry, Status: resp.StatusCode, Err: err}
	}
	return classify(resp.StatusCode, body)
}

func classify(status int, body []byte) Result {
	res := Result{Status: status, Outcome: outcomeFor(status)}

	switch {
	case status >= 200 && status < 300:
		var receipt models.Receipt
		if err := json.Unmarshal(body, &receipt); err == nil {
			res.Receipt = &receipt
		}
	case status >= 400:
		var er models.ErrorResponse
		if err := json.Unmarshal(body, &er); err == nil && er.Error.Kind != "" {
			res.Error = &er.Error
		}
	}
	return res
}

func outcomeFor(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeCommitted
	case status == http.StatusConflict:
		return OutcomeDuplicate
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return OutcomeRetry
	case status >= 400 && status < 500:
		return OutcomeRejected
	default:
		return OutcomeRetry
	}
}

// Health checks the server's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
