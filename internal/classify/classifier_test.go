package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeProvider returns a canned response and counts calls.
type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

var testNow = time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)

func TestClassify_ShortTextSkipsModel(t *testing.T) {
	fp := &fakeProvider{}
	c := New(fp, 8)

	for _, text := range []string{"", " ", "a", "  x  "} {
		decision, err := c.Classify(context.Background(), text, testNow)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", text, err)
		}
		if decision.IsTask() {
			t.Errorf("short text %q must not yield a task", text)
		}
	}
	if fp.calls != 0 {
		t.Errorf("expected 0 model calls for short texts, got %d", fp.calls)
	}
}

func TestClassify_PlainReplyRoundTrip(t *testing.T) {
	fp := &fakeProvider{response: `{"is_task": false, "reply": "ok noted"}`}
	c := New(fp, 8)

	decision, err := c.Classify(context.Background(), "just saying hi", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.IsTask() {
		t.Fatal("expected plain reply, got task")
	}
	if decision.Reply != "ok noted" {
		t.Errorf("expected reply %q, got %q", "ok noted", decision.Reply)
	}
	if fp.calls != 1 {
		t.Errorf("expected exactly 1 model call, got %d", fp.calls)
	}

	// Re-parsing the same shape is a no-op: same decision again.
	second, err := c.Classify(context.Background(), "just saying hi", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Reply != decision.Reply || second.IsTask() != decision.IsTask() {
		t.Error("classifying identical output twice must yield identical decisions")
	}
}

func TestClassify_TaskWithEndTime(t *testing.T) {
	fp := &fakeProvider{response: `{"is_task": true, "summary": "team sync", "start_time": "2026-09-02 10:00:00", "end_time": "2026-09-02 10:30:00", "quadrant": "urgent_important"}`}
	c := New(fp, 8)

	decision, err := c.Classify(context.Background(), "sync tomorrow at 10", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.IsTask() {
		t.Fatal("expected task decision")
	}
	task := decision.Task
	if task.Summary != "team sync" {
		t.Errorf("unexpected summary: %q", task.Summary)
	}
	if task.Quadrant != QuadrantUrgentImportant {
		t.Errorf("unexpected quadrant: %q", task.Quadrant)
	}
	if got := task.End.Sub(task.Start); got != 30*time.Minute {
		t.Errorf("expected 30m window, got %v", got)
	}
	// 10:00 civil time at +8 is 02:00 UTC.
	if got := task.Start.UTC(); got != time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC) {
		t.Errorf("start in UTC = %v, want 2026-09-02T02:00:00Z", got)
	}
}

func TestClassify_MissingEndDefaultsToOneHour(t *testing.T) {
	fp := &fakeProvider{response: `{"is_task": true, "summary": "buy milk", "start_time": "2026-09-02 17:00:00", "quadrant": "not_urgent_not_important"}`}
	c := New(fp, 8)

	decision, err := c.Classify(context.Background(), "buy milk tomorrow at 5pm", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.IsTask() {
		t.Fatal("expected task decision")
	}
	if got := decision.Task.End.Sub(decision.Task.Start); got != time.Hour {
		t.Errorf("expected end = start + 1h exactly, got %v", got)
	}
}

func TestClassify_FencedOutputParsesIdentically(t *testing.T) {
	plain := `{"is_task": true, "summary": "buy milk", "start_time": "2026-09-02 17:00:00"}`
	fenced := "```json\n" + plain + "\n```"

	for _, response := range []string{plain, fenced} {
		fp := &fakeProvider{response: response}
		c := New(fp, 8)
		decision, err := c.Classify(context.Background(), "buy milk tomorrow", testNow)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", response, err)
		}
		if !decision.IsTask() || decision.Task.Summary != "buy milk" {
			t.Errorf("fenced and plain output must parse identically, got %+v", decision)
		}
	}
}

func TestClassify_MalformedOutput(t *testing.T) {
	cases := map[string]string{
		"not json":          `I think this is a task!`,
		"empty reply":       `{"is_task": false, "reply": "  "}`,
		"empty summary":     `{"is_task": true, "start_time": "2026-09-02 10:00:00"}`,
		"bad start":         `{"is_task": true, "summary": "x", "start_time": "tomorrowish"}`,
		"bad end":           `{"is_task": true, "summary": "x", "start_time": "2026-09-02 10:00:00", "end_time": "later"}`,
		"end before start":  `{"is_task": true, "summary": "x", "start_time": "2026-09-02 10:00:00", "end_time": "2026-09-02 09:00:00"}`,
		"end equals start":  `{"is_task": true, "summary": "x", "start_time": "2026-09-02 10:00:00", "end_time": "2026-09-02 10:00:00"}`,
	}

	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			fp := &fakeProvider{response: response}
			c := New(fp, 8)
			_, err := c.Classify(context.Background(), "do something", testNow)
			var malformed *ErrMalformedOutput
			if !errors.As(err, &malformed) {
				t.Errorf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestClassify_UnknownQuadrantDefaults(t *testing.T) {
	fp := &fakeProvider{response: `{"is_task": true, "summary": "x", "start_time": "2026-09-02 10:00:00", "quadrant": "super_urgent"}`}
	c := New(fp, 8)

	decision, err := c.Classify(context.Background(), "do something", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Task.Quadrant != QuadrantNeither {
		t.Errorf("unknown quadrant should default to %q, got %q", QuadrantNeither, decision.Task.Quadrant)
	}
}

func TestClassify_PromptEmbedsCivilTime(t *testing.T) {
	capture := &promptCapture{response: `{"is_task": false, "reply": "ok"}`}
	c := New(capture, 8)

	if _, err := c.Classify(context.Background(), "hello world", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 04:00 UTC at +8 is 12:00 local.
	if want := "2026-09-01 12:00:00"; !strings.Contains(capture.prompt, want) {
		t.Errorf("prompt should embed civil time %q, got:\n%s", want, capture.prompt)
	}
}

type promptCapture struct {
	response string
	prompt   string
}

func (p *promptCapture) Complete(ctx context.Context, prompt string) (string, error) {
	p.prompt = prompt
	return p.response, nil
}

func (p *promptCapture) Name() string { return "capture" }

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"{\"a\":1}", `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := StripCodeFences(tc.in); got != tc.want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
