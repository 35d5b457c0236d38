package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// ChatKey returns the chat an update belongs to (0 if unknown).
func (u Update) ChatKey() int64 {
	switch {
	case u.Message != nil:
		return u.Message.ChatID
	case u.Callback != nil:
		return u.Callback.ChatID
	}
	return 0
}

// PayloadKind tags the variant carried by a Payload.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadPhoto    PayloadKind = "photo"
	PayloadVideo    PayloadKind = "video"
	PayloadDocument PayloadKind = "document"
)

// Payload is the content of an inbound message:
// Text(Text) | Photo(FileRef, Caption) | Video(FileRef, Caption) | Document(FileRef, Caption).
type Payload struct {
	Kind    PayloadKind
	Text    string
	FileRef string
	Caption string
}

func TextPayload(s string) Payload { return Payload{Kind: PayloadText, Text: s} }

func MediaPayload(kind PayloadKind, ref, caption string) Payload {
	return Payload{Kind: kind, FileRef: ref, Caption: caption}
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Payload      Payload
}

// Text returns the message text for text payloads, "" otherwise.
func (m *Message) Text() string {
	if m == nil || m.Payload.Kind != PayloadText {
		return ""
	}
	return m.Payload.Text
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button: either callback Data or a URL.
type Button struct {
	Text string
	Data string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Caption        string
	// Buttons are rendered as a single-row inline keyboard.
	Buttons []Button
}

// MediaKind is the kind of an outbound media item.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaItem is one element of a media group. Ref is a URL or a platform file id.
type MediaItem struct {
	Kind    MediaKind
	Ref     string
	Caption string
}

// Adapter is the chat transport used by the relay.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, ref string, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, ref string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, ref string, opt *SendOptions) (MessageRef, error)
	SendAudio(ctx context.Context, to ChatTarget, ref string, opt *SendOptions) (MessageRef, error)
	// SendMediaGroup sends up to 10 items as one album.
	SendMediaGroup(ctx context.Context, to ChatTarget, items []MediaItem, opt *SendOptions) ([]MessageRef, error)

	DeleteMessage(ctx context.Context, ref MessageRef) error
	PinMessage(ctx context.Context, ref MessageRef) error
	EditButtons(ctx context.Context, ref MessageRef, buttons []Button) error
	// AnswerCallback stops the client spinner; alert shows text as a modal.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
