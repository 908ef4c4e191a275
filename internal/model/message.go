package model

import (
	"fmt"
	"time"
)

// DeliveryStatus is the per-message delivery state. It only ever advances
// SENT -> DELIVERED -> SEEN.
type DeliveryStatus int

const (
	StatusUnknown DeliveryStatus = iota
	StatusSent
	StatusDelivered
	StatusSeen
)

var deliveryStatusNames = map[DeliveryStatus]string{
	StatusSent:      "SENT",
	StatusDelivered: "DELIVERED",
	StatusSeen:      "SEEN",
}

func (s DeliveryStatus) String() string {
	if name, ok := deliveryStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Advances reports whether moving from s to next is a forward transition.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return next > s
}

func (s DeliveryStatus) MarshalText() ([]byte, error) {
	name, ok := deliveryStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid delivery status %d", int(s))
	}
	return []byte(name), nil
}

func (s *DeliveryStatus) UnmarshalText(text []byte) error {
	for status, name := range deliveryStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid delivery status %q", string(text))
}

// Message is immutable once created except for Status.
type Message struct {
	ID         string         `json:"id" bson:"message_id"`
	ChatID     string         `json:"-" bson:"chat_id"`
	SenderID   string         `json:"senderId" bson:"sender_id"`
	ReceiverID string         `json:"receiverId" bson:"receiver_id"`
	Text       string         `json:"text" bson:"text"`
	Timestamp  int64          `json:"timestamp" bson:"timestamp"` // unix millis
	Status     DeliveryStatus `json:"status" bson:"status"`
}

// CreatedAt returns the creation time carried in Timestamp.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}
