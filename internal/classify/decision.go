// Package classify turns free-form user text into a structured decision:
// either a schedulable task with a time window and priority, or a plain
// conversational reply. The language model is consumed as an opaque
// completion service; its semi-structured output is validated at the
// boundary into the typed TaskDecision.
package classify

import "time"

// Quadrant is the urgency/importance priority category of a task.
type Quadrant string

const (
	QuadrantUrgentImportant    Quadrant = "urgent_important"
	QuadrantImportantNotUrgent Quadrant = "important_not_urgent"
	QuadrantUrgentNotImportant Quadrant = "urgent_not_important"
	QuadrantNeither            Quadrant = "not_urgent_not_important"
)

// parseQuadrant maps model output onto a known quadrant, defaulting to the
// lowest priority on anything unrecognized.
func parseQuadrant(s string) Quadrant {
	switch Quadrant(s) {
	case QuadrantUrgentImportant, QuadrantImportantNotUrgent, QuadrantUrgentNotImportant:
		return Quadrant(s)
	default:
		return QuadrantNeither
	}
}

// ScheduledTask is the task variant of a decision.
type ScheduledTask struct {
	Summary  string
	Start    time.Time
	End      time.Time
	Quadrant Quadrant
}

// TaskDecision is a tagged union: exactly one of Task or Reply is set.
type TaskDecision struct {
	Task  *ScheduledTask
	Reply string
}

// IsTask reports whether the decision carries a schedulable task.
func (d *TaskDecision) IsTask() bool { return d.Task != nil }

// PlainReply builds the reply variant.
func PlainReply(text string) *TaskDecision {
	return &TaskDecision{Reply: text}
}
