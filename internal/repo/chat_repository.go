package repo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage = errors.New("invalid message: id and chat id are required")
	ErrInvalidChatID  = errors.New("invalid chat ID: cannot be empty")
)

// ChatRepository is the durable chat history in the chats collection. One
// document per message, keyed by chat id and message id.
type ChatRepository interface {
	Save(ctx context.Context, msg model.Message) error
	UpdateStatus(ctx context.Context, chatID, messageID string, status model.DeliveryStatus) error
	Load(ctx context.Context, chatID string, limit int64) ([]model.Message, error)
}

type chatRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewChatRepository(repo *db.Repository[model.Message], logger *zap.Logger) ChatRepository {
	return &chatRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// Save - inserts the message once; a redelivered message is a no-op
// -----------------------------------------------------------------------------
func (r *chatRepository) Save(ctx context.Context, msg model.Message) error {
	if msg.ID == "" || msg.ChatID == "" {
		return ErrInvalidMessage
	}

	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("chat_id", msg.ChatID).Eq("message_id", msg.ID).Build()

	err := db.Retry(ctx, r.logger, "save message", func(ctx context.Context) error {
		_, err := r.mongoRepo.Upsert(ctx, filter, bson.M{"$setOnInsert": msg})
		return err
	})
	if err != nil {
		r.logger.Error("failed to save message after all retries",
			zap.Error(err),
			zap.String("chat_id", msg.ChatID),
			zap.String("message_id", msg.ID),
		)
		return err
	}

	r.logger.Debug("message saved",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// -----------------------------------------------------------------------------
// UpdateStatus - only ever raises the stored status
// -----------------------------------------------------------------------------
func (r *chatRepository) UpdateStatus(ctx context.Context, chatID, messageID string, status model.DeliveryStatus) error {
	if strings.TrimSpace(chatID) == "" {
		return ErrInvalidChatID
	}

	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("chat_id", chatID).
		Eq("message_id", messageID).
		Lt("status", status).
		Build()

	var matched int64
	err := db.Retry(ctx, r.logger, "update message status", func(ctx context.Context) error {
		result, err := r.mongoRepo.Update(ctx, filter, db.Set(bson.M{"status": status}))
		if err != nil {
			return err
		}
		matched = result.MatchedCount
		return nil
	})
	if err != nil {
		r.logger.Error("failed to update message status",
			zap.Error(err),
			zap.String("chat_id", chatID),
			zap.String("message_id", messageID),
		)
		return err
	}

	r.logger.Debug("message status updated",
		zap.String("message_id", messageID),
		zap.Stringer("status", status),
		zap.Bool("changed", matched > 0),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Load - the latest limit messages of a chat, oldest first
// -----------------------------------------------------------------------------
func (r *chatRepository) Load(ctx context.Context, chatID string, limit int64) ([]model.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrInvalidChatID
	}

	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("chat_id", chatID).Build()

	var messages []model.Message
	err := db.Retry(ctx, r.logger, "load messages", func(ctx context.Context) error {
		var err error
		messages, err = r.mongoRepo.FindSorted(ctx, filter, "timestamp", true, limit)
		return err
	})
	if err != nil {
		return nil, r.handleReadError(err, chatID)
	}

	slices.Reverse(messages)

	r.logger.Debug("messages loaded",
		zap.String("chat_id", chatID),
		zap.Int("count", len(messages)),
	)
	return messages, nil
}

func (r *chatRepository) handleReadError(err error, chatID string) error {
	if errors.Is(err, context.Canceled) {
		r.logger.Debug("read cancelled", zap.String("chat_id", chatID))
		return err
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	r.logger.Error("read failed", zap.Error(err), zap.String("chat_id", chatID))
	return fmt.Errorf("load chat %s: %w", chatID, err)
}
