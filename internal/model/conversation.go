package model

import (
	"sort"
	"strings"
)

// Conversation is a read-only view of the state held for one peer.
type Conversation struct {
	PeerID     string    `json:"peerId"`
	Messages   []Message `json:"messages"`
	PeerTyping bool      `json:"peerTyping"`
	SelfTyping bool      `json:"selfTyping"`
}

// ChatID builds the deterministic chat key for two participants: the sorted
// identities joined with an underscore.
func ChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
