// Package workflow drives the per-user conversational state machine: two
// linear flows (create, edit) whose steps validate and accumulate input,
// with uniform back-navigation and a confirm step that executes against the
// generation service.
package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akula/imgbot/internal/chat"
	"github.com/akula/imgbot/internal/genclient"
	"github.com/akula/imgbot/internal/history"
	"github.com/akula/imgbot/internal/imaging"
	"github.com/akula/imgbot/internal/present"
	"github.com/akula/imgbot/internal/session"
)

// Generator is the outbound half of the engine; satisfied by
// *genclient.Client and stubbed in tests.
type Generator interface {
	Create(ctx context.Context, req genclient.CreateRequest) ([][]byte, error)
	Edit(ctx context.Context, req genclient.EditRequest) ([][]byte, error)
}

// Recorder persists completed runs. A nil Recorder disables run logging.
type Recorder interface {
	Record(ctx context.Context, run *history.Run) error
}

// Config wires the engine's collaborators.
type Config struct {
	Store     *session.Store
	Client    Generator
	Codec     *imaging.Codec
	Presenter *present.Presenter
	Gateway   chat.Gateway
	Recorder  Recorder
	Logger    *zap.Logger
}

// Engine owns every session transition. All handling for one user runs under
// that user's session lock, so a generation in flight blocks that user's
// next event without affecting anyone else.
type Engine struct {
	store     *session.Store
	client    Generator
	codec     *imaging.Codec
	presenter *present.Presenter
	gateway   chat.Gateway
	recorder  Recorder
	logger    *zap.Logger
}

func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("session store is required")
	case cfg.Client == nil:
		return nil, errors.New("generation client is required")
	case cfg.Codec == nil:
		return nil, errors.New("image codec is required")
	case cfg.Presenter == nil:
		return nil, errors.New("presenter is required")
	case cfg.Gateway == nil:
		return nil, errors.New("gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     cfg.Store,
		client:    cfg.Client,
		codec:     cfg.Codec,
		presenter: cfg.Presenter,
		gateway:   cfg.Gateway,
		recorder:  cfg.Recorder,
		logger:    logger,
	}, nil
}

// HandleEvent processes one inbound event to completion, delivering every
// outbound command it produces. Events for the same user are handled
// strictly in arrival order.
func (e *Engine) HandleEvent(ctx context.Context, ev chat.Event) error {
	var err error
	e.store.Do(ev.UserID, func(s *session.Session) {
		cmds := e.transition(ctx, s, ev)
		err = e.deliver(ctx, ev.UserID, cmds)
	})
	return err
}

func (e *Engine) deliver(ctx context.Context, userID int64, cmds []chat.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	if err := e.gateway.Deliver(ctx, userID, cmds); err != nil {
		e.logger.Warn("deliver failed", zap.Int64("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// transition routes one event. Navigation tokens apply in any state; other
// input goes to the handler for the current (flow, step) pairing.
func (e *Engine) transition(ctx context.Context, s *session.Session, ev chat.Event) []chat.Command {
	if ev.Kind == chat.EventText && strings.TrimSpace(ev.Text) == "/start" {
		s.Reset()
		return e.presenter.MainMenu()
	}

	if ev.Kind == chat.EventButton {
		switch ev.Token {
		case chat.TokenMenu:
			s.Reset()
			return e.presenter.MainMenu()
		case chat.TokenMenuCreate:
			return e.enterFlow(s, session.FlowCreate)
		case chat.TokenMenuEdit:
			return e.enterFlow(s, session.FlowEdit)
		case chat.TokenBack:
			return e.back(s)
		case chat.TokenRegenerate:
			return e.regenerate(s)
		case chat.TokenEditResult:
			return e.editResult(s)
		}
	}

	if s.Flow == session.FlowNone {
		// Anything arriving while idle routes back to the menu.
		s.Reset()
		return e.presenter.MainMenu()
	}

	handler, ok := stepHandlers[stateKey{s.Flow, s.Step}]
	if !ok {
		// The table is validated at init, so this pairing means the session
		// record was corrupted. Recover to idle rather than crash.
		e.logger.Error("invalid flow/step pairing",
			zap.Int64("user_id", s.UserID),
			zap.Stringer("flow", s.Flow),
			zap.Stringer("step", s.Step))
		s.Reset()
		return e.presenter.MainMenu()
	}
	return handler(e, ctx, s, ev)
}

func (e *Engine) enterFlow(s *session.Session, flow session.Flow) []chat.Command {
	s.Reset()
	s.Flow = flow
	s.Step = flowSteps[flow][0]
	return e.promptFor(s)
}

// back returns to the preceding step, keeping every field already collected.
// At the initial step of a flow it resets to the menu.
func (e *Engine) back(s *session.Session) []chat.Command {
	if s.Flow == session.FlowNone {
		s.Reset()
		return e.presenter.MainMenu()
	}
	steps := flowSteps[s.Flow]
	i := stepIndex(steps, s.Step)
	if i <= 0 {
		s.Reset()
		return e.presenter.MainMenu()
	}
	s.Step = steps[i-1]
	return e.promptFor(s)
}

// regenerate re-enters the last run's flow directly at confirm with its
// fields restored.
func (e *Engine) regenerate(s *session.Session) []chat.Command {
	if !s.HasLastRun() {
		s.Reset()
		return e.presenter.MainMenu()
	}
	flow := s.LastFlow
	s.Reset()
	s.Flow = flow
	s.Prompt = s.LastPrompt
	s.Quantity = s.LastQuantity
	s.AspectRatio = s.LastAspectRatio
	s.SourceImage = s.LastSourceImage
	s.Step = session.StepConfirm
	return e.promptFor(s)
}

// editResult starts the edit flow over the last produced image, skipping the
// photo step.
func (e *Engine) editResult(s *session.Session) []chat.Command {
	if len(s.LastResult) == 0 {
		s.Reset()
		return e.presenter.MainMenu()
	}
	encoded, err := e.codec.EncodeForUpload(s.LastResult)
	if err != nil {
		e.logger.Warn("re-encoding last result failed", zap.Int64("user_id", s.UserID), zap.Error(err))
		s.Reset()
		return e.presenter.MainMenu()
	}
	s.Reset()
	s.Flow = session.FlowEdit
	s.SourceImage = encoded
	s.Step = session.StepPromptInput
	return e.promptFor(s)
}

// promptFor re-issues the prompt for the session's current step.
func (e *Engine) promptFor(s *session.Session) []chat.Command {
	switch s.Step {
	case session.StepImageInput:
		return e.presenter.AskImage()
	case session.StepPromptInput:
		return e.presenter.AskPrompt(s.Flow)
	case session.StepQuantitySelect:
		return e.presenter.AskQuantity()
	case session.StepAspectRatioSelect:
		return e.presenter.AskAspectRatio(AspectRatios)
	case session.StepConfirm:
		return e.presenter.AskConfirm(s)
	default:
		return e.presenter.MainMenu()
	}
}

// execute runs the confirmed request. It is called with the session lock
// held, so no further input for this user is processed until it returns; the
// session lands in idle regardless of outcome.
func (e *Engine) execute(ctx context.Context, s *session.Session) []chat.Command {
	params := present.RunParams{
		Flow:        s.Flow,
		Prompt:      s.Prompt,
		AspectRatio: s.AspectRatio,
		Quantity:    s.Quantity,
	}
	// Announce before the blocking call so the user is not staring at a
	// silent keyboard for minutes.
	e.deliver(ctx, s.UserID, e.presenter.Generating(s.Flow))

	start := time.Now()
	var images [][]byte
	var err error
	switch s.Flow {
	case session.FlowCreate:
		images, err = e.client.Create(ctx, genclient.CreateRequest{
			Prompt:      s.Prompt,
			AspectRatio: s.AspectRatio,
			N:           s.Quantity,
		})
	case session.FlowEdit:
		images, err = e.client.Edit(ctx, genclient.EditRequest{
			ImageB64: s.SourceImage,
			Prompt:   s.Prompt,
			N:        s.Quantity,
		})
	}
	elapsed := time.Since(start)
	outcome := classify(err)

	e.logger.Info("run finished",
		zap.Int64("user_id", s.UserID),
		zap.Stringer("flow", s.Flow),
		zap.Int("quantity", s.Quantity),
		zap.Int("images", len(images)),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed))

	e.record(ctx, s, len(images), outcome, elapsed)

	var first []byte
	if len(images) > 0 {
		first = images[0]
	}
	s.RememberRun(first)
	s.Reset()
	return e.presenter.Result(params, images, err)
}

func (e *Engine) record(ctx context.Context, s *session.Session, imageCount int, outcome string, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}
	run := &history.Run{
		ID:          uuid.New().String(),
		UserID:      s.UserID,
		Kind:        s.Flow.String(),
		Prompt:      s.Prompt,
		AspectRatio: s.AspectRatio,
		Quantity:    s.Quantity,
		ImageCount:  imageCount,
		Outcome:     outcome,
		Duration:    elapsed,
		CreatedAt:   time.Now(),
	}
	if err := e.recorder.Record(ctx, run); err != nil {
		e.logger.Warn("recording run failed", zap.Int64("user_id", s.UserID), zap.Error(err))
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case genclient.IsTransient(err):
		return "transient"
	case genclient.IsPermanent(err):
		return "permanent"
	case genclient.IsMalformed(err):
		return "malformed"
	default:
		return "error"
	}
}
