// Package providers wraps the two inference services the pipeline consumes:
// an OpenAI-compatible chat completions API and an OpenAI-compatible audio
// transcription API. Both are treated as opaque capabilities.
package providers

import "context"

// Provider is the language-model capability the classifier depends on.
type Provider interface {
	// Complete sends a single prompt and returns the model's raw text.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Transcriber is the speech-to-text capability the content resolver depends on.
type Transcriber interface {
	// Transcribe converts raw audio bytes into text. fileName hints the
	// container format to the upstream API (e.g. "voice.ogg").
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}
