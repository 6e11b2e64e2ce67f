// Package wire defines the relay protocol: the message model, the JSON
// envelopes exchanged between client and server, and the length-prefixed
// frame codec that carries them over TCP.
package wire

// Envelope types recognized by the protocol. Unknown types decode cleanly
// and are skipped by dispatch, so newer peers can add types without breaking
// older ones.
const (
	TypeRegister       = "register"
	TypeChat           = "chat"
	TypeRequestHistory = "request_history"
	TypeChatHistory    = "chat_history"
	TypeUserList       = "user_list"
	TypeKick           = "kick"
	TypeError          = "error"
)

// Envelope is the decoded form of one frame payload. Type selects which of
// the remaining fields are meaningful; the rest stay at their zero values
// and are omitted on encode.
type Envelope struct {
	Type string `json:"type"`

	// register
	Username string `json:"username,omitempty"`

	// chat
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Text        string `json:"text,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	MessageType int    `json:"messageType,omitempty"`

	// request_history and chat_history
	With     string           `json:"with,omitempty"`
	Messages []MessagePayload `json:"messages,omitempty"`

	// user_list
	Users []string `json:"users,omitempty"`

	// kick
	Reason string `json:"reason,omitempty"`

	// error
	ErrorText string `json:"message,omitempty"`
}

// Register builds a registration envelope.
func Register(username string) Envelope {
	return Envelope{Type: TypeRegister, Username: username}
}

// Chat wraps a message into a chat envelope.
func Chat(m Message) Envelope {
	p := m.Payload()
	return Envelope{
		Type:        TypeChat,
		From:        p.From,
		To:          p.To,
		Text:        p.Text,
		Timestamp:   p.Timestamp,
		MessageType: p.MessageType,
	}
}

// ChatMessage extracts the message carried by a chat envelope.
func (e Envelope) ChatMessage() Message {
	return MessagePayload{
		From:        e.From,
		To:          e.To,
		Text:        e.Text,
		Timestamp:   e.Timestamp,
		MessageType: e.MessageType,
	}.Message()
}

// RequestHistory builds a history request envelope.
func RequestHistory(from, with string) Envelope {
	return Envelope{Type: TypeRequestHistory, From: from, With: with}
}

// ChatHistory builds a history response envelope.
func ChatHistory(with string, messages []MessagePayload) Envelope {
	return Envelope{Type: TypeChatHistory, With: with, Messages: messages}
}

// UserList builds a roster envelope.
func UserList(users []string) Envelope {
	return Envelope{Type: TypeUserList, Users: users}
}

// Kick builds a kick envelope.
func Kick(reason string) Envelope {
	return Envelope{Type: TypeKick, Reason: reason}
}

// Error builds an error envelope.
func Error(message string) Envelope {
	return Envelope{Type: TypeError, ErrorText: message}
}
