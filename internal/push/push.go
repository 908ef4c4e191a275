// Package push turns push-notification payloads into conversation updates
// and keeps the device token on the user document.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Parley/internal/model"

	"go.uber.org/zap"
)

var ErrIncompletePayload = errors.New("push: payload needs senderId and messageId")

// Receiver accepts messages that arrived outside the pub/sub channel.
type Receiver interface {
	HandleIncoming(ctx context.Context, msg model.Message)
}

type TokenStore interface {
	SaveToken(ctx context.Context, username, token string) error
}

type Handler struct {
	self     string
	receiver Receiver
	tokens   TokenStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(self string, receiver Receiver, tokens TokenStore, logger *zap.Logger) *Handler {
	return &Handler{
		self:     self,
		receiver: receiver,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleData treats a data push as the delivery of the message it names:
// the conversation records it as DELIVERED and acks the sender. A push for
// a message already received is only re-acked.
func (h *Handler) HandleData(ctx context.Context, data model.PushData) error {
	if strings.TrimSpace(data.SenderID) == "" || data.MessageID == "" {
		h.logger.Warn("dropping push payload", zap.Any("data", data))
		return ErrIncompletePayload
	}
	if data.RoomID != "" && data.RoomID != model.ChatID(data.SenderID, h.self) {
		h.logger.Debug("push for another room", zap.String("room_id", data.RoomID))
		return nil
	}

	h.receiver.HandleIncoming(ctx, model.Message{
		ID:         data.MessageID,
		SenderID:   data.SenderID,
		ReceiverID: h.self,
		Text:       data.Text,
		Timestamp:  h.now().UnixMilli(),
	})
	return nil
}

// RefreshToken stores token against the current identity.
func (h *Handler) RefreshToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := h.tokens.SaveToken(ctx, h.self, token); err != nil {
		return fmt.Errorf("save push token: %w", err)
	}
	h.logger.Info("push token refreshed")
	return nil
}
