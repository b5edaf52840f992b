// Package session holds the per-user conversation record and a store that
// serializes access per user while letting unrelated users proceed in
// parallel.
package session

import "fmt"

// Flow identifies which workflow a user is in.
type Flow int

const (
	FlowNone Flow = iota
	FlowCreate
	FlowEdit
)

func (f Flow) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowCreate:
		return "create"
	case FlowEdit:
		return "edit"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// Step is a position within a flow. The zero value StepIdle is the only step
// valid for FlowNone.
type Step int

const (
	StepIdle Step = iota
	StepImageInput
	StepPromptInput
	StepQuantitySelect
	StepAspectRatioSelect
	StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepImageInput:
		return "image_input"
	case StepPromptInput:
		return "prompt_input"
	case StepQuantitySelect:
		return "quantity_select"
	case StepAspectRatioSelect:
		return "aspect_ratio_select"
	case StepConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Session is the mutable conversation record for one user. It is owned by
// the workflow engine; the Store only provides synchronized access, so none
// of the fields carry their own locking.
type Session struct {
	UserID int64
	Flow   Flow
	Step   Step

	// Fields accumulated while stepping through a flow.
	Prompt      string
	Quantity    int
	AspectRatio string
	// SourceImage is the upload-normalized base64 payload for the edit flow.
	SourceImage string

	// Last* fields are retained after a successful run so "regenerate" and
	// "edit result" can re-enter a flow without re-asking every step.
	LastFlow        Flow
	LastPrompt      string
	LastQuantity    int
	LastAspectRatio string
	LastSourceImage string
	// LastResult is the first image produced by the last successful run,
	// kept raw so "edit result" can feed it back through the codec.
	LastResult []byte
}

// Reset returns the session to idle and drops the in-flow fields. Retained
// Last* fields survive so post-result actions keep working.
func (s *Session) Reset() {
	s.Flow = FlowNone
	s.Step = StepIdle
	s.Prompt = ""
	s.Quantity = 0
	s.AspectRatio = ""
	s.SourceImage = ""
}

// RememberRun records the parameters and first image of a successful run.
func (s *Session) RememberRun(firstImage []byte) {
	s.LastFlow = s.Flow
	s.LastPrompt = s.Prompt
	s.LastQuantity = s.Quantity
	s.LastAspectRatio = s.AspectRatio
	s.LastSourceImage = s.SourceImage
	s.LastResult = firstImage
}

// HasLastRun reports whether a previous successful run is available to the
// post-result actions.
func (s *Session) HasLastRun() bool {
	return s.LastFlow != FlowNone && s.LastPrompt != ""
}
