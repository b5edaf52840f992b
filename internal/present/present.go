// Package present turns workflow outcomes into outbound chat commands: step
// prompts with their keyboards, per-image sends, success summaries, and
// classified error messages. It knows nothing about the transport that
// renders them.
package present

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/akula/imgbot/internal/chat"
	"github.com/akula/imgbot/internal/genclient"
	"github.com/akula/imgbot/internal/session"
)

// Keyboard labels double as button tokens; the transport echoes the pressed
// label back as the event token.
var (
	mainMenuKeyboard = chat.Keyboard{{chat.TokenMenuCreate, chat.TokenMenuEdit}}
	backKeyboard     = chat.Keyboard{{chat.TokenBack}}
	quantityKeyboard = chat.Keyboard{{"1", "2", "3", "4"}, {chat.TokenBack}}
	confirmKeyboard  = chat.Keyboard{{chat.TokenConfirm, chat.TokenBack}}

	afterSuccessKeyboard = chat.Keyboard{
		{chat.TokenRegenerate, chat.TokenEditResult},
		{chat.TokenMenuCreate, chat.TokenMenu},
	}
	afterTransientKeyboard = chat.Keyboard{
		{chat.TokenRegenerate},
		{chat.TokenMenu},
	}
	afterFailureKeyboard = chat.Keyboard{{chat.TokenMenu}}
)

// RunParams echoes the parameters a finished run used.
type RunParams struct {
	Flow        session.Flow
	Prompt      string
	AspectRatio string
	Quantity    int
}

// Presenter builds outbound command sequences.
type Presenter struct{}

func New() *Presenter {
	return &Presenter{}
}

// MainMenu greets the user and offers the two flows.
func (p *Presenter) MainMenu() []chat.Command {
	return []chat.Command{chat.SendText{
		Text:     "What would you like to do?",
		Keyboard: mainMenuKeyboard,
	}}
}

// AskPrompt requests the text description for the given flow.
func (p *Presenter) AskPrompt(flow session.Flow) []chat.Command {
	text := "Describe the image you want:"
	if flow == session.FlowEdit {
		text = "What should be changed?"
	}
	return []chat.Command{chat.SendText{Text: text, Keyboard: backKeyboard}}
}

// AskImage requests the source photo for the edit flow.
func (p *Presenter) AskImage() []chat.Command {
	return []chat.Command{chat.SendText{Text: "Send the photo to edit.", Keyboard: backKeyboard}}
}

// AskQuantity requests how many variants to produce.
func (p *Presenter) AskQuantity() []chat.Command {
	return []chat.Command{chat.SendText{Text: "How many variants? (1-4)", Keyboard: quantityKeyboard}}
}

// AskAspectRatio requests one of the allowed ratios.
func (p *Presenter) AskAspectRatio(ratios []string) []chat.Command {
	kb := chat.Keyboard{ratios, {chat.TokenBack}}
	return []chat.Command{chat.SendText{Text: "Pick an aspect ratio:", Keyboard: kb}}
}

// AskConfirm summarizes the collected fields before execution.
func (p *Presenter) AskConfirm(s *session.Session) []chat.Command {
	text := fmt.Sprintf("Prompt: %s\nVariants: %d", s.Prompt, s.Quantity)
	if s.Flow == session.FlowCreate {
		text += "\nAspect ratio: " + s.AspectRatio
	}
	text += "\n\nStart?"
	return []chat.Command{chat.SendText{Text: text, Keyboard: confirmKeyboard}}
}

// Generating announces that execution started and clears the keyboard so no
// step input arrives mid-run.
func (p *Presenter) Generating(flow session.Flow) []chat.Command {
	text := "Generating..."
	if flow == session.FlowEdit {
		text = "Editing..."
	}
	return []chat.Command{chat.ClearKeyboard{}, chat.SendText{Text: text}}
}

// Reject re-prompts after invalid input without changing any state.
func (p *Presenter) Reject(reason string) []chat.Command {
	return []chat.Command{chat.SendText{Text: reason}}
}

// ImageUnreadable tells the user their photo could not be processed.
func (p *Presenter) ImageUnreadable() []chat.Command {
	return []chat.Command{chat.SendText{Text: "Couldn't process that image. Please send another photo.", Keyboard: backKeyboard}}
}

// Result emits one SendImage per produced image in order, then either a
// success summary or a classified failure. A summary is never produced for
// zero images.
func (p *Presenter) Result(params RunParams, images [][]byte, runErr error) []chat.Command {
	var cmds []chat.Command
	var total uint64
	prefix := "img"
	if params.Flow == session.FlowEdit {
		prefix = "edit"
	}
	for i, img := range images {
		total += uint64(len(img))
		cmds = append(cmds, chat.SendImage{
			Data:     img,
			Filename: fmt.Sprintf("%s_%d.png", prefix, i+1),
			Caption:  fmt.Sprintf("Variant %d", i+1),
		})
	}

	if runErr != nil {
		cmds = append(cmds, p.failure(runErr))
		return cmds
	}
	if len(images) == 0 {
		// A run that produced nothing is a failure even if the client
		// reported none.
		return []chat.Command{p.failure(nil)}
	}

	summary := fmt.Sprintf("Done! %d image(s), %s.\nPrompt: %s",
		len(images), humanize.Bytes(total), params.Prompt)
	if params.AspectRatio != "" {
		summary += "\nAspect ratio: " + params.AspectRatio
	}
	cmds = append(cmds, chat.SendText{Text: summary, Keyboard: afterSuccessKeyboard})
	return cmds
}

// failure maps a classified client error to a user-visible message. Only
// transient failures get a retry affordance.
func (p *Presenter) failure(err error) chat.Command {
	switch {
	case genclient.IsTransient(err):
		return chat.SendText{
			Text:     "The service is overloaded right now. Try again in a bit.",
			Keyboard: afterTransientKeyboard,
		}
	case genclient.IsPermanent(err):
		return chat.SendText{
			Text:     "The request was rejected: " + err.Error(),
			Keyboard: afterFailureKeyboard,
		}
	default:
		return chat.SendText{
			Text:     "Something went wrong while generating. Please start over.",
			Keyboard: afterFailureKeyboard,
		}
	}
}
