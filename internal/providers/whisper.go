package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// transcribeEndpoint is the path appended to the STT API base.
const transcribeEndpoint = "/audio/transcriptions"

// WhisperTranscriber implements Transcriber against an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI Whisper, Groq, local faster-whisper
// gateways, etc.)
type WhisperTranscriber struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

// NewWhisperTranscriber creates an audio transcription client.
func NewWhisperTranscriber(apiKey, apiBase, model string) *WhisperTranscriber {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &WhisperTranscriber{
		apiKey:  apiKey,
		apiBase: apiBase,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// transcriptionResponse is the expected JSON response from the STT API.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio bytes as multipart/form-data and returns the
// transcribed text. Any HTTP or parse error is returned so the caller can
// surface it as a transcription failure.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	if fileName == "" {
		fileName = "audio.ogg"
	}

	// Build multipart/form-data body.
	// Fields:
	//   file  — audio bytes (required)
	//   model — transcription model name
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("stt: write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	url := t.apiBase + transcribeEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result transcriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}

	return result.Text, nil
}

// Compile-time interface checks.
var (
	_ Provider    = (*OpenAIProvider)(nil)
	_ Transcriber = (*WhisperTranscriber)(nil)
)
