package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Parley/internal/call"
	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var terminalStatuses = []model.CallStatus{
	model.CallStatusEnded,
	model.CallStatusMissed,
	model.CallStatusRejected,
	model.CallStatusDeclined,
}

// CallRepository stores call records in the calls collection. Participant and
// invitation sets are only changed through set operators, never rewritten.
type CallRepository struct {
	mongoRepo *db.Repository[model.CallRecord]
	logger    *zap.Logger
	now       func() time.Time
}

func NewCallRepository(repo *db.Repository[model.CallRecord], logger *zap.Logger) *CallRepository {
	return &CallRepository{mongoRepo: repo, logger: logger, now: time.Now}
}

func (r *CallRepository) Create(ctx context.Context, rec model.CallRecord) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	return db.Retry(ctx, r.logger, "create call", func(ctx context.Context) error {
		_, err := r.mongoRepo.Create(ctx, rec)
		return err
	})
}

func (r *CallRepository) Get(ctx context.Context, callID string) (*model.CallRecord, error) {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultReadTimeout)
	defer cancel()

	var rec *model.CallRecord
	err := db.Retry(ctx, r.logger, "get call", func(ctx context.Context) error {
		var err error
		rec, err = r.mongoRepo.FindByID(ctx, callID)
		return err
	})
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// AddParticipants is a single $addToSet with $each; concurrent accepts
// cannot drop each other's participants.
func (r *CallRepository) AddParticipants(ctx context.Context, callID string, status model.CallStatus, users ...string) (*model.CallRecord, error) {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ID(callID).NotIn("status", terminalStatuses).Build()
	update := bson.M{
		"$addToSet": db.AddToSet("participants", users...),
		"$set":      bson.M{"status": status, "updated_at": r.now().UTC()},
	}

	var rec *model.CallRecord
	err := db.Retry(ctx, r.logger, "add participants", func(ctx context.Context) error {
		var err error
		rec, err = r.mongoRepo.FindOneAndUpdate(ctx, filter, update)
		return err
	})
	if err != nil {
		return nil, notFound(err)
	}

	r.logger.Debug("participants added",
		zap.String("call_id", callID),
		zap.Strings("added", users),
		zap.Strings("participants", rec.Participants),
	)
	return rec, nil
}

// AddPendingInvites records invitees and marks the call a group call.
func (r *CallRepository) AddPendingInvites(ctx context.Context, callID string, users ...string) error {
	update := bson.M{
		"$addToSet": db.AddToSet("pending_invites", users...),
		"$set":      bson.M{"is_group_call": true, "updated_at": r.now().UTC()},
	}
	return r.update(ctx, "add pending invites", callID, update)
}

func (r *CallRepository) RemovePendingInvite(ctx context.Context, callID, user string) error {
	update := bson.M{
		"$pull": bson.M{"pending_invites": user},
		"$set":  bson.M{"updated_at": r.now().UTC()},
	}
	return r.update(ctx, "remove pending invite", callID, update)
}

func (r *CallRepository) RemoveParticipant(ctx context.Context, callID, user string) error {
	update := bson.M{
		"$pull": bson.M{"participants": user},
		"$set":  bson.M{"updated_at": r.now().UTC()},
	}
	return r.update(ctx, "remove participant", callID, update)
}

func (r *CallRepository) SetStatus(ctx context.Context, callID string, status model.CallStatus) error {
	return r.update(ctx, "set call status", callID, db.Set(bson.M{"status": status, "updated_at": r.now().UTC()}))
}

func (r *CallRepository) update(ctx context.Context, op, callID string, update bson.M) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	var matched int64
	err := db.Retry(ctx, r.logger, op, func(ctx context.Context) error {
		result, err := r.mongoRepo.Update(ctx, db.NewFilter().ID(callID).Build(), update)
		if err != nil {
			return err
		}
		matched = result.MatchedCount
		return nil
	})
	if err != nil {
		r.logger.Error(op+" failed", zap.String("call_id", callID), zap.Error(err))
		return err
	}
	if matched == 0 {
		return fmt.Errorf("%s %s: %w", op, callID, call.ErrCallNotFound)
	}
	return nil
}

// InvitationRepository stores one notification document per invitee in the
// call_invitations collection.
type InvitationRepository struct {
	mongoRepo *db.Repository[model.CallInvitation]
	logger    *zap.Logger
}

func NewInvitationRepository(repo *db.Repository[model.CallInvitation], logger *zap.Logger) *InvitationRepository {
	return &InvitationRepository{mongoRepo: repo, logger: logger}
}

// Create is idempotent: inviting a user twice keeps the first document.
func (r *InvitationRepository) Create(ctx context.Context, inv model.CallInvitation) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	return db.Retry(ctx, r.logger, "create invitation", func(ctx context.Context) error {
		_, err := r.mongoRepo.Upsert(ctx, db.NewFilter().ID(inv.ID).Build(), bson.M{"$setOnInsert": inv})
		return err
	})
}

func (r *InvitationRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	return db.Retry(ctx, r.logger, "delete invitation", func(ctx context.Context) error {
		_, err := r.mongoRepo.DeleteByID(ctx, id)
		return err
	})
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %v", call.ErrCallNotFound, err)
	}
	return err
}
