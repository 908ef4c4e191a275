package event

import "Parley/internal/model"

// Call Event Types - UI to engine
const (
	// EventCallStart - Caller creates a ringing call record
	EventCallStart = "call:start"

	// EventCallInvite - Invite more users into an existing call
	EventCallInvite = "call:invite"

	// EventCallAccept - Invitee accepts the call
	EventCallAccept = "call:accept"

	// EventCallDecline - Invitee declines the call
	EventCallDecline = "call:decline"

	// EventCallLeave - Leave the current call
	EventCallLeave = "call:leave"

	// EventCallMute - Toggle local microphone
	EventCallMute = "call:mute"

	// EventCallVolume - Periodic volume indication from the call engine
	EventCallVolume = "call:volume"
)

// Call Event Types - engine to UI
const (
	// EventCallRoute - Navigate to the 1:1 or group call screen
	EventCallRoute = "call:route"

	// EventCallSpeaking - Who is speaking now
	EventCallSpeaking = "call:speaking"

	// EventCallJoinChannel - Ask the call engine to join a channel
	EventCallJoinChannel = "call:join_channel"

	// EventCallLeaveChannel - Ask the call engine to leave the channel
	EventCallLeaveChannel = "call:leave_channel"

	// EventCallSetMute - Ask the call engine to mute or unmute
	EventCallSetMute = "call:set_mute"
)

type CallStartPayload struct {
	CallID     string `json:"callId"`
	Channel    string `json:"channel"`
	ReceiverID string `json:"receiverId"`
	AudioOnly  bool   `json:"audioOnly"`
}

type CallInvitePayload struct {
	CallID string   `json:"callId"`
	Users  []string `json:"users"`
}

type CallPayload struct {
	CallID string `json:"callId"`
}

type CallMutePayload struct {
	Muted bool `json:"muted"`
}

// CallVolumePayload mirrors the engine callback
// (perSpeakerSamples[], aggregateVolume, isLocalMuted).
type CallVolumePayload struct {
	Speakers  []model.VolumeSample `json:"speakers"`
	Aggregate int                  `json:"aggregate"`
	Muted     bool                 `json:"muted"`
}

type JoinChannelPayload struct {
	Channel   string `json:"channel"`
	AudioOnly bool   `json:"audioOnly"`
}
