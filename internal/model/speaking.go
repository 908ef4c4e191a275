package model

// VolumeSample is one per-speaker entry reported by the call engine. Local
// marks the near-end speaker when the engine cannot name it.
type VolumeSample struct {
	Username string `json:"username"`
	Volume   int    `json:"volume"`
	Local    bool   `json:"local,omitempty"`
}

// SpeakingSample is the per-user speaking broadcast relayed through the
// durable store under a call.
type SpeakingSample struct {
	CallID     string `json:"callId" bson:"call_id"`
	Username   string `json:"username" bson:"username"`
	IsSpeaking bool   `json:"isSpeaking" bson:"is_speaking"`
	Volume     int    `json:"volume" bson:"volume"`
	Timestamp  int64  `json:"timestamp" bson:"timestamp"` // unix millis
}

// SpeakingView is what call screens render. Self never appears in it.
type SpeakingView struct {
	CallID   string          `json:"callId"`
	Speaking map[string]bool `json:"speaking"`
	Volumes  map[string]int  `json:"volumes"`
}
