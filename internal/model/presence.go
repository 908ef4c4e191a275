package model

// Presence is published retained so a new subscriber always gets the last
// known value. LastSeen is set only on the transition to offline.
type Presence struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen *int64 `json:"lastSeen,omitempty"` // unix millis
}
