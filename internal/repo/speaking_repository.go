package repo

import (
	"context"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// speakingDoc is one user's latest speaking state in a call.
type speakingDoc struct {
	ID                   string `bson:"_id"`
	model.SpeakingSample `bson:",inline"`
}

type changeEvent struct {
	FullDocument *speakingDoc `bson:"fullDocument"`
}

// SpeakingRepository relays speaking samples through the call_speaking
// collection: each user upserts its own document per call and the others
// follow a change stream.
type SpeakingRepository struct {
	mongoRepo *db.Repository[speakingDoc]
	logger    *zap.Logger
}

func NewSpeakingRepository(database *mongo.Database, logger *zap.Logger) *SpeakingRepository {
	return &SpeakingRepository{
		mongoRepo: db.NewRepository[speakingDoc](database, "call_speaking"),
		logger:    logger,
	}
}

func speakingID(callID, user string) string {
	return callID + "_" + user
}

func (r *SpeakingRepository) Broadcast(ctx context.Context, sample model.SpeakingSample) error {
	ctx, cancel := db.EnsureTimeout(ctx, db.DefaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ID(speakingID(sample.CallID, sample.Username)).Build()
	// not retried, the next tick supersedes it
	_, err := r.mongoRepo.Upsert(ctx, filter, db.Set(bson.M{
		"call_id":     sample.CallID,
		"username":    sample.Username,
		"is_speaking": sample.IsSpeaking,
		"volume":      sample.Volume,
		"timestamp":   sample.Timestamp,
	}))
	return err
}

// Listen streams the samples written for callID until ctx is done.
func (r *SpeakingRepository) Listen(ctx context.Context, callID string) (<-chan model.SpeakingSample, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":         bson.M{"$in": []string{"insert", "update", "replace"}},
			"fullDocument.call_id": callID,
		}}},
	}

	stream, err := r.mongoRepo.Watch(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	out := make(chan model.SpeakingSample)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				r.logger.Warn("dropping undecodable speaking change", zap.Error(err))
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			select {
			case out <- ev.FullDocument.SpeakingSample:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			r.logger.Error("speaking change stream failed", zap.String("call_id", callID), zap.Error(err))
		}
	}()

	return out, nil
}
