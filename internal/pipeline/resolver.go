package pipeline

import (
	"context"
	"strings"

	"github.com/YaHan2020/voice-flow/internal/lark"
)

// voiceFileName hints the audio container format to the transcription API.
// Lark voice clips are opus in an ogg container.
const voiceFileName = "voice.ogg"

// resolveContent produces the canonical text for an event.
//   - text: verbatim passthrough, no network calls.
//   - audio: download the clip by file key, then transcribe it.
//   - anything else: UnsupportedModality.
//
// All failures are typed so the caller can emit one diagnostic reply.
func (p *Pipeline) resolveContent(ctx context.Context, token string, ev *lark.InboundEvent) (string, error) {
	switch ev.Modality {
	case lark.ModalityText:
		return ev.Text, nil

	case lark.ModalityAudio:
		audio, err := withTimeout(ctx, p.opts.CallTimeout, "lark.download_resource", func(ctx context.Context) ([]byte, error) {
			return p.lark.DownloadMessageResource(ctx, token, ev.MessageID, ev.FileKey)
		})
		if err != nil {
			return "", failf(FailureDownload, err)
		}

		text, err := withTimeout(ctx, p.opts.CallTimeout, "stt.transcribe", func(ctx context.Context) (string, error) {
			return p.transcriber.Transcribe(ctx, audio, voiceFileName)
		})
		if err != nil {
			return "", failf(FailureTranscription, err)
		}
		if strings.TrimSpace(text) == "" {
			return "", failf(FailureEmptyTranscription, nil)
		}
		return text, nil

	default:
		return "", failf(FailureUnsupportedModality, nil)
	}
}
