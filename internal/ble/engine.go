package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/armord/internal/frame"
)

// DefaultMaxAttempts is the retry budget for one request.
const DefaultMaxAttempts = 3

// Engine drives one full request/response exchange through the
// transport: acquire a peripheral, send continuation blocks in reverse
// index order awaiting a per-block acknowledgement, then send the
// primary block, whose notification is the response. Exchanges are
// serialized; the BLE adapter is exclusive to one request at a time.
type Engine struct {
	transport   *Transport
	maxAttempts int

	mu sync.Mutex
}

// NewEngine creates an engine over the transport. maxAttempts values
// below 1 fall back to DefaultMaxAttempts.
func NewEngine(transport *Transport, maxAttempts int) *Engine {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{transport: transport, maxAttempts: maxAttempts}
}

// Exchange transmits the request body and returns the device's
// response to the primary block. Failed attempts disconnect and retry
// until the budget is exhausted or ctx is done, then fail with a
// RequestError wrapping the last cause.
func (e *Engine) Exchange(ctx context.Context, body []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	blocks := frame.Split(body)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			slog.Warn("[BLE] retrying request", "attempt", attempt, "error", lastErr)
		}
		resp, err := e.attempt(ctx, blocks)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &RequestError{Attempts: attempts, Cause: lastErr}
}

// attempt performs one acquisition and block sequence. The peripheral
// is released on every path.
func (e *Engine) attempt(ctx context.Context, blocks [][]byte) ([]byte, error) {
	p, err := e.transport.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	var resp []byte
	for _, block := range blocks {
		resp, err = p.WriteBlock(ctx, block)
		if err != nil {
			return nil, err
		}
		if code, ok := frame.Rejection(resp); ok {
			return nil, fmt.Errorf("ble: block not accepted: %w", &BlockError{Code: code})
		}
	}
	return resp, nil
}
