package event

import "encoding/json"

// Bridge events - UI to engine
const (
	EventSendMessage     = "message:send"
	EventTyping          = "message:typing"
	EventMarkSeen        = "message:seen"
	EventLeaveChat       = "chat:leave"
	EventLoadHistory     = "chat:history"
	EventObservePresence = "presence:observe"
	EventPushData        = "push:data"
	EventPushToken       = "push:token"
)

// Bridge events - engine to UI
const (
	EventConversations = "state:conversations"
	EventPresence      = "state:presence"
	EventError         = "state:error"
)

// WsEvent is the envelope exchanged with UI bridge clients.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	PeerID string `json:"peerId"`
	Text   string `json:"text"`
}

type TypingPayload struct {
	PeerID   string `json:"peerId"`
	IsTyping bool   `json:"isTyping"`
}

type MarkSeenPayload struct {
	PeerID    string `json:"peerId"`
	MessageID string `json:"messageId"`
}

type PeerPayload struct {
	PeerID string `json:"peerId"`
}

type PushTokenPayload struct {
	Token string `json:"token"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
