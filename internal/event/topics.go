package event

import "fmt"

// Topic kinds. Every topic is scoped to the receiving user: a sender
// publishes to the receiver's topic and each user subscribes to its own.
const (
	TopicPresence = "presence"
	TopicIncoming = "incoming"
	TopicTyping   = "typing"
	TopicStatus   = "status"
)

func userTopic(userID, kind string) string {
	return fmt.Sprintf("chat/users/%s/%s", userID, kind)
}

// PresenceTopic is chat/users/{userId}/presence.
func PresenceTopic(userID string) string { return userTopic(userID, TopicPresence) }

// IncomingTopic is chat/users/{userId}/incoming.
func IncomingTopic(userID string) string { return userTopic(userID, TopicIncoming) }

// TypingTopic is chat/users/{userId}/typing.
func TypingTopic(userID string) string { return userTopic(userID, TopicTyping) }

// StatusTopic is chat/users/{userId}/status.
func StatusTopic(userID string) string { return userTopic(userID, TopicStatus) }
