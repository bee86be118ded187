package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind classifies terminal pipeline failures. Every kind maps to a
// single diagnostic chat reply; none of them propagate past the run.
type FailureKind int

const (
	FailureTokenAcquisition FailureKind = iota
	FailureDownload
	FailureTranscription
	FailureEmptyTranscription
	FailureUnsupportedModality
	FailureMalformedModelOutput
	FailureClassification
	FailureScheduling
)

func (k FailureKind) String() string {
	switch k {
	case FailureTokenAcquisition:
		return "token_acquisition"
	case FailureDownload:
		return "download"
	case FailureTranscription:
		return "transcription"
	case FailureEmptyTranscription:
		return "empty_transcription"
	case FailureUnsupportedModality:
		return "unsupported_modality"
	case FailureMalformedModelOutput:
		return "malformed_model_output"
	case FailureClassification:
		return "classification"
	case FailureScheduling:
		return "scheduling"
	default:
		return "unknown"
	}
}

// Failure is a terminal pipeline error carrying its kind and the upstream
// diagnostic cause.
type Failure struct {
	Kind  FailureKind
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

func failf(kind FailureKind, cause error) *Failure {
	return &Failure{Kind: kind, Cause: cause}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// userMessage renders the single diagnostic reply for a failure. Upstream
// detail is included where it helps an operator debug permission or
// configuration problems.
func userMessage(f *Failure) string {
	switch f.Kind {
	case FailureUnsupportedModality:
		return "Sorry, I can only handle text and voice messages for now."
	case FailureDownload:
		return fmt.Sprintf("I couldn't fetch your voice message from the platform: %v", f.Cause)
	case FailureTranscription:
		return fmt.Sprintf("I couldn't transcribe your voice message: %v", f.Cause)
	case FailureEmptyTranscription:
		return "I couldn't hear anything in that voice message. Could you try again?"
	case FailureMalformedModelOutput, FailureClassification:
		return "I had trouble understanding that one. Could you rephrase it?"
	case FailureScheduling:
		return fmt.Sprintf("I understood the task but couldn't create the calendar event: %v", f.Cause)
	default:
		return "Something went wrong while processing your message. Please try again."
	}
}
