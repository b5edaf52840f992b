package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/akula/imgbot/internal/chat"
	"github.com/akula/imgbot/internal/imaging"
	"github.com/akula/imgbot/internal/session"
)

// AspectRatios is the fixed set the create flow accepts, in keyboard order.
var AspectRatios = []string{"16:9", "9:16", "3:2", "2:3", "4:3", "3:4", "1:1"}

const (
	minQuantity = 1
	maxQuantity = 4
)

// flowSteps lists each flow's steps in order. Back-navigation and step
// advancement both walk this table.
var flowSteps = map[session.Flow][]session.Step{
	session.FlowCreate: {
		session.StepPromptInput,
		session.StepQuantitySelect,
		session.StepAspectRatioSelect,
		session.StepConfirm,
	},
	session.FlowEdit: {
		session.StepImageInput,
		session.StepPromptInput,
		session.StepQuantitySelect,
		session.StepConfirm,
	},
}

type stateKey struct {
	flow session.Flow
	step session.Step
}

type stepHandler func(e *Engine, ctx context.Context, s *session.Session, ev chat.Event) []chat.Command

// stepHandlers is the transition table keyed by (flow, step). Every pairing
// reachable through flowSteps has an entry; init panics otherwise, making an
// incomplete table a startup failure instead of a runtime surprise.
var stepHandlers = map[stateKey]stepHandler{
	{session.FlowCreate, session.StepPromptInput}:       handlePromptInput,
	{session.FlowCreate, session.StepQuantitySelect}:    handleQuantitySelect,
	{session.FlowCreate, session.StepAspectRatioSelect}: handleAspectRatioSelect,
	{session.FlowCreate, session.StepConfirm}:           handleConfirm,
	{session.FlowEdit, session.StepImageInput}:          handleImageInput,
	{session.FlowEdit, session.StepPromptInput}:         handlePromptInput,
	{session.FlowEdit, session.StepQuantitySelect}:      handleQuantitySelect,
	{session.FlowEdit, session.StepConfirm}:             handleConfirm,
}

func init() {
	for flow, steps := range flowSteps {
		for _, step := range steps {
			if _, ok := stepHandlers[stateKey{flow, step}]; !ok {
				panic(fmt.Sprintf("workflow: no handler for (%v, %v)", flow, step))
			}
		}
	}
}

func stepIndex(steps []session.Step, step session.Step) int {
	for i, s := range steps {
		if s == step {
			return i
		}
	}
	return -1
}

// advance moves the session to the next step of its flow and prompts for it.
func advance(e *Engine, s *session.Session) []chat.Command {
	steps := flowSteps[s.Flow]
	i := stepIndex(steps, s.Step)
	if i < 0 || i+1 >= len(steps) {
		// Confirm is the last step; it transitions through execute, never
		// through advance.
		e.logger.Error("advance past final step",
			zap.Stringer("flow", s.Flow), zap.Stringer("step", s.Step))
		s.Reset()
		return e.presenter.MainMenu()
	}
	s.Step = steps[i+1]
	return e.promptFor(s)
}

func handlePromptInput(e *Engine, _ context.Context, s *session.Session, ev chat.Event) []chat.Command {
	if ev.Kind != chat.EventText || strings.TrimSpace(ev.Text) == "" {
		return e.presenter.Reject("The description can't be empty. Describe the image:")
	}
	s.Prompt = strings.TrimSpace(ev.Text)
	return advance(e, s)
}

func handleImageInput(e *Engine, _ context.Context, s *session.Session, ev chat.Event) []chat.Command {
	if ev.Kind != chat.EventPhoto {
		return e.presenter.Reject("That isn't a photo. Send the photo to edit.")
	}
	encoded, err := e.codec.EncodeForUpload(ev.Image)
	if err != nil {
		// A decode failure is the user's problem (bad file); anything else
		// is still recoverable by resending, so the step never changes.
		if !errors.Is(err, imaging.ErrDecode) {
			e.logger.Warn("photo encoding failed", zap.Int64("user_id", s.UserID), zap.Error(err))
		}
		return e.presenter.ImageUnreadable()
	}
	s.SourceImage = encoded
	return advance(e, s)
}

// stepInput extracts the candidate value for a selection step. Keyboard
// labels double as button tokens, so a button press and typed text are the
// same input.
func stepInput(ev chat.Event) (string, bool) {
	switch ev.Kind {
	case chat.EventText:
		return strings.TrimSpace(ev.Text), true
	case chat.EventButton:
		return ev.Token, true
	default:
		return "", false
	}
}

func handleQuantitySelect(e *Engine, _ context.Context, s *session.Session, ev chat.Event) []chat.Command {
	input, ok := stepInput(ev)
	if !ok {
		return e.presenter.Reject(quantityRange())
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < minQuantity || n > maxQuantity {
		return e.presenter.Reject(quantityRange())
	}
	s.Quantity = n
	return advance(e, s)
}

func quantityRange() string {
	return fmt.Sprintf("Pick a number between %d and %d.", minQuantity, maxQuantity)
}

func handleAspectRatioSelect(e *Engine, _ context.Context, s *session.Session, ev chat.Event) []chat.Command {
	if ratio, ok := stepInput(ev); ok {
		for _, allowed := range AspectRatios {
			if ratio == allowed {
				s.AspectRatio = ratio
				return advance(e, s)
			}
		}
	}
	return e.presenter.Reject("Pick one of the listed aspect ratios.")
}

func handleConfirm(e *Engine, ctx context.Context, s *session.Session, ev chat.Event) []chat.Command {
	if ev.Kind == chat.EventButton && ev.Token == chat.TokenConfirm {
		return e.execute(ctx, s)
	}
	// Anything but confirm/back just re-shows the summary.
	return e.presenter.AskConfirm(s)
}
