package llm

import (
	"context"
	"errors"
)

// ErrNoChoices is returned when the backend produced no candidate.
var ErrNoChoices = errors.New("llm: completion returned no choices")

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the top candidate.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}
