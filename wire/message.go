package wire

import "time"

// Kind classifies a chat message.
type Kind int

const (
	// Private is a one-to-one message between two users.
	Private Kind = iota
	// Broadcast is a server message fanned out to every connected user.
	Broadcast
	// ServerAlert is an administrative notice fanned out to every connected user.
	ServerAlert
)

func (k Kind) String() string {
	switch k {
	case Private:
		return "private"
	case Broadcast:
		return "broadcast"
	case ServerAlert:
		return "server_alert"
	default:
		return "unknown"
	}
}

// TimeLayout is the timestamp encoding used on the wire and in history files.
const TimeLayout = "2006-01-02T15:04:05"

// Message is an immutable chat message. To is empty for Broadcast and
// ServerAlert messages; routing ignores it for those kinds.
type Message struct {
	From      string
	To        string
	Text      string
	Timestamp time.Time
	Kind      Kind
}

// NewMessage builds a Private message stamped with the current time.
func NewMessage(from, to, text string) Message {
	return Message{
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Now(),
		Kind:      Private,
	}
}

// MessagePayload is the serialized form of a Message. It is both the body of
// a chat frame and the element type of history files, so the two stay
// interchangeable. The kind travels as a bare integer only at this boundary.
type MessagePayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
	MessageType int    `json:"messageType"`
}

// Payload converts a Message to its serialized form.
func (m Message) Payload() MessagePayload {
	return MessagePayload{
		From:        m.From,
		To:          m.To,
		Text:        m.Text,
		Timestamp:   m.Timestamp.Format(TimeLayout),
		MessageType: int(m.Kind),
	}
}

// Message converts a payload back to the in-memory form. An unparseable
// timestamp yields the zero time rather than an error; peers and old history
// files are not trusted to be well-formed.
func (p MessagePayload) Message() Message {
	ts, err := time.ParseInLocation(TimeLayout, p.Timestamp, time.Local)
	if err != nil {
		ts = time.Time{}
	}
	return Message{
		From:      p.From,
		To:        p.To,
		Text:      p.Text,
		Timestamp: ts,
		Kind:      Kind(p.MessageType),
	}
}
