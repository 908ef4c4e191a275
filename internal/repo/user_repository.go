package repo

import (
	"context"
	"time"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type UserRepository interface {
	GetUser(ctx context.Context, username string) (*model.User, error)
	SaveToken(ctx context.Context, username, token string) error
	SetLastSeen(ctx context.Context, username string, at time.Time) error
}

type userRepository struct {
	mongoRepo *db.Repository[model.User]
	logger    *zap.Logger
}

func NewUserRepository(repo *db.Repository[model.User], logger *zap.Logger) UserRepository {
	return &userRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *userRepository) GetUser(ctx context.Context, username string) (*model.User, error) {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultReadTimeout)
	defer cancel()

	return r.mongoRepo.FindByID(ctx, username)
}

// SaveToken persists a refreshed push token against the user document,
// creating the document on first use.
func (r *userRepository) SaveToken(ctx context.Context, username, token string) error {
	return r.set(ctx, "save push token", username, bson.M{"push_token": token})
}

func (r *userRepository) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	return r.set(ctx, "set last seen", username, bson.M{"last_seen": at.UTC()})
}

func (r *userRepository) set(ctx context.Context, op, username string, fields bson.M) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	fields["updated_at"] = time.Now().UTC()
	err := db.Retry(ctx, r.logger, op, func(ctx context.Context) error {
		_, err := r.mongoRepo.Upsert(ctx, db.NewFilter().ID(username).Build(), db.Set(fields))
		return err
	})
	if err != nil {
		r.logger.Error(op+" failed", zap.String("username", username), zap.Error(err))
		return err
	}
	r.logger.Debug(op, zap.String("username", username))
	return nil
}
