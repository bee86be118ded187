package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/YaHan2020/voice-flow/internal/providers"
)

// civilTimeLayout is the wall-clock format the model is asked to use.
const civilTimeLayout = "2006-01-02 15:04:05"

// minClassifiableRunes is the guard below which text is answered without an
// inference call.
const minClassifiableRunes = 2

// defaultTaskDuration fills in a missing end_time.
const defaultTaskDuration = time.Hour

// ErrMalformedOutput wraps any model response that cannot be converted into
// a valid TaskDecision.
type ErrMalformedOutput struct {
	Reason string
	Raw    string
}

func (e *ErrMalformedOutput) Error() string {
	return fmt.Sprintf("malformed model output: %s", e.Reason)
}

// Classifier asks a language model whether the text is a schedulable task.
type Classifier struct {
	provider providers.Provider
	// tzOffset is the civil timezone the prompt and the parsed timestamps
	// are expressed in. Configurable, not hard-coded.
	tzOffset *time.Location
}

// New creates a Classifier. offsetHours is the civil timezone offset east of
// UTC used for "now" in the prompt and for parsing model timestamps.
func New(provider providers.Provider, offsetHours int) *Classifier {
	return &Classifier{
		provider: provider,
		tzOffset: time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600),
	}
}

// modelDecision is the JSON shape the model is instructed to return.
type modelDecision struct {
	IsTask    bool   `json:"is_task"`
	Summary   string `json:"summary,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Quadrant  string `json:"quadrant,omitempty"`
	Reply     string `json:"reply,omitempty"`
}

// Classify converts text into a TaskDecision. Text shorter than two trimmed
// runes short-circuits to a plain reply without an inference call.
func (c *Classifier) Classify(ctx context.Context, text string, nowUTC time.Time) (*TaskDecision, error) {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minClassifiableRunes {
		return PlainReply("The message is too short to analyze, could you say a bit more?"), nil
	}

	prompt := c.buildPrompt(trimmed, nowUTC)

	raw, err := c.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	decision, err := c.parseDecision(raw)
	if err != nil {
		slog.Warn("classifier got unparseable model output", "error", err, "raw_len", len(raw))
		return nil, err
	}
	return decision, nil
}

// buildPrompt embeds the current civil time and the required JSON contract.
func (c *Classifier) buildPrompt(text string, nowUTC time.Time) string {
	now := nowUTC.In(c.tzOffset).Format(civilTimeLayout)

	var b strings.Builder
	b.WriteString("You are a scheduling assistant. The current local time is ")
	b.WriteString(now)
	b.WriteString(".\n\nDecide whether the user's message describes a schedulable task.\n")
	b.WriteString("Respond with ONLY a JSON object, no markdown fences, no commentary:\n")
	b.WriteString(`{"is_task": true, "summary": "...", "start_time": "YYYY-MM-DD HH:MM:SS", "end_time": "YYYY-MM-DD HH:MM:SS", "quadrant": "urgent_important|important_not_urgent|urgent_not_important|not_urgent_not_important"}`)
	b.WriteString("\nor\n")
	b.WriteString(`{"is_task": false, "reply": "a short, friendly answer to the message"}`)
	b.WriteString("\n\nTimes are local wall-clock time. end_time may be omitted if the user gave no duration.\n\nMessage:\n")
	b.WriteString(text)
	return b.String()
}

// parseDecision normalizes and validates the raw model text.
func (c *Classifier) parseDecision(raw string) (*TaskDecision, error) {
	cleaned := StripCodeFences(raw)

	var md modelDecision
	if err := json.Unmarshal([]byte(cleaned), &md); err != nil {
		return nil, &ErrMalformedOutput{Reason: fmt.Sprintf("not valid JSON: %v", err), Raw: raw}
	}

	if !md.IsTask {
		reply := strings.TrimSpace(md.Reply)
		if reply == "" {
			return nil, &ErrMalformedOutput{Reason: "is_task=false but reply is empty", Raw: raw}
		}
		return PlainReply(reply), nil
	}

	if strings.TrimSpace(md.Summary) == "" {
		return nil, &ErrMalformedOutput{Reason: "is_task=true but summary is empty", Raw: raw}
	}

	start, err := time.ParseInLocation(civilTimeLayout, md.StartTime, c.tzOffset)
	if err != nil {
		return nil, &ErrMalformedOutput{Reason: fmt.Sprintf("bad start_time %q", md.StartTime), Raw: raw}
	}

	var end time.Time
	if md.EndTime == "" {
		end = start.Add(defaultTaskDuration)
	} else {
		end, err = time.ParseInLocation(civilTimeLayout, md.EndTime, c.tzOffset)
		if err != nil {
			return nil, &ErrMalformedOutput{Reason: fmt.Sprintf("bad end_time %q", md.EndTime), Raw: raw}
		}
	}
	if !end.After(start) {
		return nil, &ErrMalformedOutput{Reason: "end_time is not after start_time", Raw: raw}
	}

	return &TaskDecision{Task: &ScheduledTask{
		Summary:  strings.TrimSpace(md.Summary),
		Start:    start,
		End:      end,
		Quadrant: parseQuadrant(md.Quadrant),
	}}, nil
}

// StripCodeFences removes a Markdown code fence wrapping the model's output.
// Models frequently wrap JSON in ```json fences despite instructions not to,
// so this normalization is mandatory before parsing.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop a language hint like "json" on the opening fence line.
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if len(firstLine) <= 16 && !strings.ContainsAny(firstLine, "{}[]") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
