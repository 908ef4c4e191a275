// Package call reconciles invite, accept and decline operations against the
// durable call record and decides which call screen to route to.
package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"Parley/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCallNotFound = errors.New("call: record not found")
	ErrCallEnded    = errors.New("call: call already ended")
	ErrBlankUser    = errors.New("call: user cannot be blank")
	ErrNotTerminal  = errors.New("call: status is not terminal")
)

// groupSize is the participant count from which a call is a group call.
const groupSize = 3

// Store is the durable call record collection.
type Store interface {
	Create(ctx context.Context, rec model.CallRecord) error
	Get(ctx context.Context, callID string) (*model.CallRecord, error)
	// AddParticipants unions users into the participant set in one atomic
	// write and returns the record as of after that write.
	AddParticipants(ctx context.Context, callID string, status model.CallStatus, users ...string) (*model.CallRecord, error)
	AddPendingInvites(ctx context.Context, callID string, users ...string) error
	RemovePendingInvite(ctx context.Context, callID, user string) error
	RemoveParticipant(ctx context.Context, callID, user string) error
	SetStatus(ctx context.Context, callID string, status model.CallStatus) error
}

// Invitations holds the per-invitee notification documents.
type Invitations interface {
	Create(ctx context.Context, inv model.CallInvitation) error
	Delete(ctx context.Context, id string) error
}

type Coordinator struct {
	calls       Store
	invitations Invitations
	logger      *zap.Logger
	now         func() time.Time
}

func NewCoordinator(calls Store, invitations Invitations, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		calls:       calls,
		invitations: invitations,
		logger:      logger,
		now:         time.Now,
	}
}

// Start creates a ringing call record. A blank id gets a generated one and a
// blank channel reuses the id.
func (c *Coordinator) Start(ctx context.Context, rec model.CallRecord) (model.CallRecord, error) {
	if strings.TrimSpace(rec.CallerID) == "" {
		return model.CallRecord{}, ErrBlankUser
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Channel == "" {
		rec.Channel = rec.ID
	}
	now := c.now().UTC()
	rec.Status = model.CallStatusRinging
	rec.Participants = []string{}
	rec.PendingInvites = []string{}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := c.calls.Create(ctx, rec); err != nil {
		return model.CallRecord{}, fmt.Errorf("create call %s: %w", rec.ID, err)
	}
	c.logger.Info("call started",
		zap.String("call_id", rec.ID),
		zap.String("caller_id", rec.CallerID),
		zap.String("receiver_id", rec.ReceiverID),
	)
	return rec, nil
}

// Invite adds users to the call's pending invitations and creates one
// notification document per user.
func (c *Coordinator) Invite(ctx context.Context, callID, by string, users ...string) error {
	rec, err := c.live(ctx, callID)
	if err != nil {
		return err
	}

	invited := make([]string, 0, len(users))
	for _, u := range users {
		if strings.TrimSpace(u) != "" && !slices.Contains(rec.Participants, u) {
			invited = append(invited, u)
		}
	}
	if len(invited) == 0 {
		return nil
	}

	if err := c.calls.AddPendingInvites(ctx, callID, invited...); err != nil {
		return fmt.Errorf("add invites to %s: %w", callID, err)
	}

	var errs []error
	for _, u := range invited {
		inv := model.CallInvitation{
			ID:          model.InvitationID(callID, u),
			CallID:      callID,
			InvitedUser: u,
			InvitedBy:   by,
			Channel:     rec.Channel,
			AudioOnly:   rec.AudioOnly,
			CreatedAt:   c.now().UTC(),
		}
		if err := c.invitations.Create(ctx, inv); err != nil {
			errs = append(errs, fmt.Errorf("invite %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

// Accept adds the invited user, together with the original caller and
// receiver, to the participant set and returns the route computed from the
// set that write produced. The pending invitation is then cleared; failures
// there are logged, the accept still stands.
func (c *Coordinator) Accept(ctx context.Context, callID, invited string) (model.CallRoute, error) {
	if strings.TrimSpace(invited) == "" {
		return model.CallRoute{}, ErrBlankUser
	}
	rec, err := c.live(ctx, callID)
	if err != nil {
		return model.CallRoute{}, err
	}

	users := []string{rec.CallerID}
	if strings.TrimSpace(rec.ReceiverID) != "" {
		users = append(users, rec.ReceiverID)
	}
	users = append(users, invited)

	updated, err := c.calls.AddParticipants(ctx, callID, model.CallStatusAccepted, dedupe(users)...)
	if err != nil {
		return model.CallRoute{}, fmt.Errorf("accept %s: %w", callID, err)
	}

	c.clearInvitation(ctx, callID, invited)

	route := RouteFor(*updated)
	c.logger.Info("call accepted",
		zap.String("call_id", callID),
		zap.String("user", invited),
		zap.Strings("participants", route.Participants),
		zap.String("route", string(route.Kind)),
	)
	return route, nil
}

// Decline clears the user's pending invitation. The participant set is not
// touched; a receiver declining a ringing 1:1 call also ends it.
func (c *Coordinator) Decline(ctx context.Context, callID, invited string) error {
	if strings.TrimSpace(invited) == "" {
		return ErrBlankUser
	}
	rec, err := c.live(ctx, callID)
	if err != nil {
		return err
	}

	c.clearInvitation(ctx, callID, invited)

	if rec.Status == model.CallStatusRinging && !rec.IsGroupCall && rec.ReceiverID == invited {
		if err := c.calls.SetStatus(ctx, callID, model.CallStatusDeclined); err != nil {
			return fmt.Errorf("decline %s: %w", callID, err)
		}
	}
	c.logger.Info("call declined", zap.String("call_id", callID), zap.String("user", invited))
	return nil
}

// End moves the call to a terminal status.
func (c *Coordinator) End(ctx context.Context, callID string, status model.CallStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, status)
	}
	if err := c.calls.SetStatus(ctx, callID, status); err != nil {
		return fmt.Errorf("end %s: %w", callID, err)
	}
	c.logger.Info("call ended", zap.String("call_id", callID), zap.String("status", string(status)))
	return nil
}

// Withdraw undoes an accept that could not be followed by a join: a 1:1
// call is ended, a group call just loses the user.
func (c *Coordinator) Withdraw(ctx context.Context, route model.CallRoute, user string) error {
	if route.Kind == model.RouteOneToOne {
		return c.End(ctx, route.CallID, model.CallStatusEnded)
	}
	if err := c.calls.RemoveParticipant(ctx, route.CallID, user); err != nil {
		return fmt.Errorf("withdraw %s from %s: %w", user, route.CallID, err)
	}
	c.logger.Info("participant withdrawn", zap.String("call_id", route.CallID), zap.String("user", user))
	return nil
}

// RouteFor picks the group screen for three or more participants or an
// explicit group call, and the 1:1 screen otherwise.
func RouteFor(rec model.CallRecord) model.CallRoute {
	kind := model.RouteOneToOne
	if rec.IsGroupCall || len(rec.Participants) >= groupSize {
		kind = model.RouteGroup
	}
	return model.CallRoute{
		CallID:       rec.ID,
		Kind:         kind,
		Channel:      rec.Channel,
		AudioOnly:    rec.AudioOnly,
		Participants: append([]string(nil), rec.Participants...),
	}
}

func (c *Coordinator) live(ctx context.Context, callID string) (*model.CallRecord, error) {
	rec, err := c.calls.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", callID, err)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrCallEnded, callID, rec.Status)
	}
	return rec, nil
}

// clearInvitation issues the two cleanup writes independently.
func (c *Coordinator) clearInvitation(ctx context.Context, callID, user string) {
	if err := c.calls.RemovePendingInvite(ctx, callID, user); err != nil {
		c.logger.Warn("remove pending invite failed",
			zap.String("call_id", callID),
			zap.String("user", user),
			zap.Error(err),
		)
	}
	if err := c.invitations.Delete(ctx, model.InvitationID(callID, user)); err != nil {
		c.logger.Warn("delete invitation failed",
			zap.String("call_id", callID),
			zap.String("user", user),
			zap.Error(err),
		)
	}
}

func dedupe(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := users[:0:0]
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
