// Package chat defines the transport-agnostic boundary between the bot core
// and whatever chat system delivers user events: inbound events tagged with a
// user identity, and outbound commands the transport renders.
package chat

import "context"

// EventKind discriminates inbound events.
type EventKind int

const (
	EventText EventKind = iota
	EventPhoto
	EventButton
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventPhoto:
		return "photo"
	case EventButton:
		return "button"
	default:
		return "unknown"
	}
}

// Button tokens understood by the workflow engine.
const (
	TokenBack       = "back"
	TokenConfirm    = "confirm"
	TokenMenuCreate = "menu:create"
	TokenMenuEdit   = "menu:edit"
	TokenMenu       = "menu"
	TokenRegenerate = "regenerate"
	TokenEditResult = "edit_result"
)

// Event is a single inbound user event.
type Event struct {
	UserID int64
	Kind   EventKind

	// Text is set for EventText.
	Text string
	// Image holds raw photo bytes for EventPhoto.
	Image []byte
	// Token is set for EventButton.
	Token string
}

// TextEvent builds a text event.
func TextEvent(userID int64, text string) Event {
	return Event{UserID: userID, Kind: EventText, Text: text}
}

// PhotoEvent builds a photo event.
func PhotoEvent(userID int64, image []byte) Event {
	return Event{UserID: userID, Kind: EventPhoto, Image: image}
}

// ButtonEvent builds a button-press event.
func ButtonEvent(userID int64, token string) Event {
	return Event{UserID: userID, Kind: EventButton, Token: token}
}

// Keyboard is a grid of button labels. Each label doubles as the token
// delivered back when the button is pressed.
type Keyboard [][]string

// Command is an outbound instruction to the transport. Exactly one of the
// concrete types below is emitted per command.
type Command interface {
	command()
}

// SendText asks the transport to deliver a text message, optionally replacing
// the visible keyboard.
type SendText struct {
	Text     string
	Keyboard Keyboard
}

// SendImage asks the transport to deliver one image.
type SendImage struct {
	Data     []byte
	Filename string
	Caption  string
}

// ClearKeyboard removes any visible keyboard without sending text.
type ClearKeyboard struct{}

func (SendText) command()      {}
func (SendImage) command()     {}
func (ClearKeyboard) command() {}

// Gateway delivers outbound commands to the user. Implementations must be
// safe for concurrent use by sessions of different users.
type Gateway interface {
	Deliver(ctx context.Context, userID int64, cmds []Command) error
}

// Outbox is a Gateway that records everything delivered to it. It is the
// test double used throughout the engine tests.
type Outbox struct {
	Commands []Command
}

func (o *Outbox) Deliver(_ context.Context, _ int64, cmds []Command) error {
	o.Commands = append(o.Commands, cmds...)
	return nil
}

// Texts returns the text of every SendText delivered, in order.
func (o *Outbox) Texts() []string {
	var out []string
	for _, c := range o.Commands {
		if st, ok := c.(SendText); ok {
			out = append(out, st.Text)
		}
	}
	return out
}

// Images returns every SendImage delivered, in order.
func (o *Outbox) Images() []SendImage {
	var out []SendImage
	for _, c := range o.Commands {
		if si, ok := c.(SendImage); ok {
			out = append(out, si)
		}
	}
	return out
}
