// Package event defines the inbound requests the bot receives and the
// replies it produces, independent of the messaging transport.
package event

// Kind identifies the payload variant of an inbound event.
type Kind int

const (
	KindText Kind = iota
	KindPhoto
	KindVideo
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseKind maps a lowercase kind name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "text":
		return KindText, true
	case "photo":
		return KindPhoto, true
	case "video":
		return KindVideo, true
	default:
		return 0, false
	}
}

// Payload is the closed set of things a sender can submit: Text, Photo or Video.
type Payload interface {
	Kind() Kind
	payload()
}

// FileRef points at media either held inline or stored by the transport
// under an opaque ID.
type FileRef struct {
	ID   string
	Size int64
	Data []byte
}

// Inline reports whether the bytes are already present.
func (f FileRef) Inline() bool {
	return f.Data != nil
}

// Text is a plain text message.
type Text struct {
	Body string
}

// Photo is a still image.
type Photo struct {
	File FileRef
}

// Video is a video clip.
type Video struct {
	File FileRef
}

func (Text) Kind() Kind  { return KindText }
func (Photo) Kind() Kind { return KindPhoto }
func (Video) Kind() Kind { return KindVideo }

func (Text) payload()  {}
func (Photo) payload() {}
func (Video) payload() {}

// Inbound is a single request from a sender.
type Inbound struct {
	ID       string
	SenderID int64
	ChatID   int64
	Payload  Payload
}

// Content is the closed set of reply bodies.
type Content interface {
	content()
}

// TextMessage is a plain text reply.
type TextMessage struct {
	Body string
}

// PhotoAttachment is an encoded JPEG reply.
type PhotoAttachment struct {
	Data     []byte
	Filename string
}

// VideoAttachment is an encoded MP4 reply.
type VideoAttachment struct {
	Data     []byte
	Filename string
}

// ErrorNotice tells the sender that the request could not be processed.
// It never carries internal error details.
type ErrorNotice struct {
	Message string
}

func (TextMessage) content()     {}
func (PhotoAttachment) content() {}
func (VideoAttachment) content() {}
func (ErrorNotice) content()     {}

// Outbound is the reply to one Inbound event.
type Outbound struct {
	Recipient int64
	Content   Content
}

// Default reply filenames and notices.
const (
	PhotoFilename = "unique.jpg"
	VideoFilename = "unique.mp4"

	GenericErrorMessage = "Sorry, something went wrong while processing your file. Please try again."
)
