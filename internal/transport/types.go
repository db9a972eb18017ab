package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// ContentKind classifies what an inbound message carries.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideo     ContentKind = "video"
	ContentAnimation ContentKind = "animation"
	ContentOther     ContentKind = "other"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string // text, or caption for media messages
	Kind         ContentKind
}

// Ref returns a reference that can later be copied or deleted.
func (m *Message) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

// Target returns the chat the message was sent in.
func (m *Message) Target() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the chat platform boundary.
//
// Media is always passed by URL reference: the platform fetches it, the bot never
// downloads or re-encodes anything.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, url, caption string) (MessageRef, error)
	SendAudio(ctx context.Context, to ChatTarget, url, title string) (MessageRef, error)

	// CopyMessage duplicates an existing message into another chat without re-uploading media.
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}
