package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backend is a provider that can also transcribe and synthesize audio.
type Backend interface {
	Provider
	Transcriber
	Synthesizer
}

// RateLimitedBackend wraps a Backend with a token bucket shared by every
// call kind, so completions and audio requests draw from the same budget.
type RateLimitedBackend struct {
	backend  Backend
	rpm      int
	mu       sync.Mutex
	tokens   int
	lastFill time.Time
}

// NewRateLimitedBackend allows at most rpm requests per minute. rpm <= 0
// returns the backend unchanged.
func NewRateLimitedBackend(backend Backend, rpm int) Backend {
	if rpm <= 0 {
		return backend
	}
	return &RateLimitedBackend{
		backend:  backend,
		rpm:      rpm,
		tokens:   rpm,
		lastFill: time.Now(),
	}
}

func (r *RateLimitedBackend) Name() string {
	return r.backend.Name()
}

func (r *RateLimitedBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	return r.backend.Complete(ctx, req)
}

func (r *RateLimitedBackend) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}
	return r.backend.Transcribe(ctx, req)
}

func (r *RateLimitedBackend) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	return r.backend.Synthesize(ctx, req)
}

func (r *RateLimitedBackend) take() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	refill := int(now.Sub(r.lastFill).Seconds() * float64(r.rpm) / 60.0)
	if refill > 0 {
		r.tokens = min(r.tokens+refill, r.rpm)
		r.lastFill = now
	}
	if r.tokens > 0 {
		r.tokens--
		return 0, true
	}
	// Time until the next token is due.
	return time.Minute/time.Duration(r.rpm) - now.Sub(r.lastFill), false
}

func (r *RateLimitedBackend) wait(ctx context.Context) error {
	for {
		delay, ok := r.take()
		if ok {
			return nil
		}
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
