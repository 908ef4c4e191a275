package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status        string            `json:"status"`        // "healthy", "degraded"
	Identity      string            `json:"identity"`      // Session identity
	Transport     TransportStats    `json:"transport"`     // Pub/sub connection stats
	Conversations ConversationStats `json:"conversations"` // Reducer stats
	Calls         CallStats         `json:"calls"`         // Active call stats
	Clients       []ClientInfo      `json:"clients"`       // Connected UI bridge clients
}

// TransportStats holds pub/sub adapter statistics
type TransportStats struct {
	Connected     bool     `json:"connected"`
	ClientID      string   `json:"clientId"`
	Subscriptions []string `json:"subscriptions"` // Topics with at least one open stream
}

// ConversationStats holds conversation reducer statistics
type ConversationStats struct {
	TotalConversations int                `json:"totalConversations"`
	TotalMessages      int                `json:"totalMessages"`
	Details            []ConversationInfo `json:"details"`
}

// ConversationInfo contains information about a single conversation
type ConversationInfo struct {
	PeerID       string         `json:"peerId"`
	MessageCount int            `json:"messageCount"`
	ByStatus     map[string]int `json:"byStatus"`
	PeerTyping   bool           `json:"peerTyping"`
}

// CallStats holds active call statistics
type CallStats struct {
	TotalActiveCalls int        `json:"totalActiveCalls"`
	CallDetails      []CallInfo `json:"callDetails"`
}

// CallInfo contains information about a single active call
type CallInfo struct {
	CallID       string   `json:"callId"`
	Channel      string   `json:"channel"`
	Route        string   `json:"route"`
	Participants []string `json:"participants"`
	Speaking     []string `json:"speaking"` // Remote users speaking right now
	Muted        bool     `json:"muted"`
}

// ClientInfo contains information about a connected UI bridge client
type ClientInfo struct {
	ClientID string `json:"clientId"`
	Closed   bool   `json:"closed"`
}
