package model

import "time"

// CallStatus is the lifecycle state of a durable call record. It is
// unrelated to a message's DeliveryStatus.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
	CallStatusDeclined CallStatus = "declined"
)

// Terminal reports whether no further transitions are expected.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusRejected, CallStatusDeclined:
		return true
	default:
		return false
	}
}

// CallRecord is the durable call document keyed by call id.
type CallRecord struct {
	ID             string     `json:"callId" bson:"_id"`
	Channel        string     `json:"channel" bson:"channel"`
	AudioOnly      bool       `json:"audioOnly" bson:"audio_only"`
	Status         CallStatus `json:"status" bson:"status"`
	CallerID       string     `json:"callerId" bson:"caller_id"`
	ReceiverID     string     `json:"receiverId" bson:"receiver_id"`
	Participants   []string   `json:"participants" bson:"participants"`
	PendingInvites []string   `json:"pendingInvites" bson:"pending_invites"`
	IsGroupCall    bool       `json:"isGroupCall" bson:"is_group_call"`
	CreatedAt      time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" bson:"updated_at"`
}

// CallInvitation is the pending-invitation notification shown to an invitee.
type CallInvitation struct {
	ID          string    `json:"id" bson:"_id"`
	CallID      string    `json:"callId" bson:"call_id"`
	InvitedUser string    `json:"invitedUser" bson:"invited_user"`
	InvitedBy   string    `json:"invitedBy" bson:"invited_by"`
	Channel     string    `json:"channel" bson:"channel"`
	AudioOnly   bool      `json:"audioOnly" bson:"audio_only"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

// InvitationID is the deterministic key of a user's invitation to a call.
func InvitationID(callID, user string) string {
	return callID + "_" + user
}

// RouteKind selects the call screen a client navigates to.
type RouteKind string

const (
	RouteOneToOne RouteKind = "one_to_one"
	RouteGroup    RouteKind = "group"
)

// CallRoute is the navigation decision produced after an accept.
type CallRoute struct {
	CallID       string    `json:"callId"`
	Kind         RouteKind `json:"kind"`
	Channel      string    `json:"channel"`
	AudioOnly    bool      `json:"audioOnly"`
	Participants []string  `json:"participants"`
}
