package model

// StatusEvent tells ReceiverID that the message MessageID, as seen from
// SenderID's side, is now in Status.
type StatusEvent struct {
	MessageID  string         `json:"messageId"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	Status     DeliveryStatus `json:"status"`
}

// TypingEvent is edge triggered and carries no timestamp.
type TypingEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// PushData is the data payload of an inbound chat push notification.
type PushData struct {
	SenderID  string `json:"senderId"`
	RoomID    string `json:"roomId"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}
