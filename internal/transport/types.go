package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateText   UpdateKind = "text"
	UpdateButton UpdateKind = "button"
)

// Update is one inbound event from the transport. Exactly one of Text/Button is set.
type Update struct {
	Kind   UpdateKind
	Text   *TextEvent
	Button *ButtonEvent
}

// Destination returns the requester the update belongs to.
func (u Update) Destination() ChatTarget {
	switch {
	case u.Text != nil:
		return u.Text.Dest
	case u.Button != nil:
		return u.Button.Dest
	default:
		return ChatTarget{}
	}
}

type TextEvent struct {
	ID           int
	Dest         ChatTarget
	FromID       int64
	FromUsername string
	Text         string
}

type ButtonEvent struct {
	ID        string // callback id, used for Acknowledge
	Dest      ChatTarget
	FromID    int64
	MessageID int
	Payload   string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline button carrying callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons. A nil keyboard removes buttons.
type Keyboard [][]Button

// File is a media artifact handed to the transport. Reader is consumed once.
type File struct {
	Name     string
	MIME     string
	Size     int64
	Reader   io.Reader
	Title    string
	Duration int // seconds
}

// Outbound is what the core needs from the transport.
//
// Text, captions and button labels are Telegram-HTML (see pkg/tgui).
type Outbound interface {
	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, url, caption string, kb Keyboard) (MessageRef, error)
	SendButtons(ctx context.Context, to ChatTarget, text string, kb Keyboard) (MessageRef, error)
	SendAudio(ctx context.Context, to ChatTarget, f File) error
	SendVideo(ctx context.Context, to ChatTarget, f File) error
	EditButtons(ctx context.Context, ref MessageRef, kb Keyboard) error
	Acknowledge(ctx context.Context, eventID string) error
}

// Adapter is a transport that also produces inbound updates.
type Adapter interface {
	Outbound
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
