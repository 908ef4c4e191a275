package model

import "time"

// User is the durable user document keyed by display name.
type User struct {
	Username  string     `json:"username" bson:"_id"`
	PushToken string     `json:"pushToken,omitempty" bson:"push_token,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty" bson:"last_seen,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updated_at"`
}
