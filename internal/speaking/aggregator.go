// Package speaking tracks who is speaking in a call, merging the local call
// engine's volume samples with the broadcasts of the other participants.
package speaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Parley/internal/feed"
	"Parley/internal/model"

	"go.uber.org/zap"
)

const (
	// VolumeThreshold is the level a sample must exceed to count as speech.
	VolumeThreshold = 5
	// SpeakingWindow is how long a sample keeps its speaker "speaking".
	SpeakingWindow = 500 * time.Millisecond
	// EvictAfter is how long a sample's volume stays in the view at all.
	EvictAfter = 1000 * time.Millisecond
)

// Store relays speaking samples between participants of a call.
type Store interface {
	Broadcast(ctx context.Context, sample model.SpeakingSample) error
	Listen(ctx context.Context, callID string) (<-chan model.SpeakingSample, error)
}

// Aggregator owns the speaking state of one call for one user.
type Aggregator struct {
	callID string
	self   string
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// tickMu serialises volume ticks so broadcasts leave in tick order
	tickMu sync.Mutex

	mu            sync.Mutex
	remote        *Cache[string, int]
	localSpeaking bool
	localVolume   int

	feed *feed.Feed[model.SpeakingView]
}

// NewAggregator creates the aggregator for callID as seen by self. A nil
// clock means time.Now.
func NewAggregator(callID, self string, store Store, logger *zap.Logger, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		callID: callID,
		self:   self,
		store:  store,
		logger: logger.With(zap.String("call_id", callID)),
		now:    now,
		remote: NewCache[string, int](EvictAfter, now),
		feed:   feed.New[model.SpeakingView](),
	}
}

func (a *Aggregator) CallID() string { return a.callID }

// OnVolumeIndication handles one tick of the call engine's volume callback.
// Remote speakers above the threshold are recorded; self only sets the
// local flag, falling back to the aggregate level when no per-speaker sample
// names self. The local state is then broadcast to the other participants.
func (a *Aggregator) OnVolumeIndication(ctx context.Context, samples []model.VolumeSample, aggregate int, muted bool) {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	a.mu.Lock()
	wasSpeaking := a.localSpeaking

	a.localSpeaking = false
	a.localVolume = 0
	for _, s := range samples {
		if s.Volume <= VolumeThreshold {
			continue
		}
		if s.Local || s.Username == a.self {
			a.localSpeaking = true
			a.localVolume = s.Volume
			continue
		}
		if s.Username == "" {
			continue
		}
		a.remote.Put(s.Username, s.Volume)
	}
	if !muted && !a.localSpeaking && aggregate > VolumeThreshold {
		a.localSpeaking = true
		a.localVolume = aggregate
	}
	if muted {
		a.localSpeaking = false
		a.localVolume = 0
	}
	a.remote.Delete(a.self)

	sample := model.SpeakingSample{
		CallID:     a.callID,
		Username:   a.self,
		IsSpeaking: a.localSpeaking,
		Volume:     a.localVolume,
		Timestamp:  a.now().UnixMilli(),
	}
	a.feed.Publish(a.viewLocked())
	a.mu.Unlock()

	// silence is only sent once, on the edge
	if !sample.IsSpeaking && !wasSpeaking {
		return
	}
	if err := a.store.Broadcast(ctx, sample); err != nil {
		a.logger.Warn("broadcast speaking state failed", zap.Error(err))
	}
}

// Ingest applies a speaking broadcast from another participant. Samples
// from self or another call are ignored.
func (a *Aggregator) Ingest(sample model.SpeakingSample) {
	if sample.Username == "" || sample.Username == a.self || sample.CallID != a.callID {
		return
	}

	a.mu.Lock()
	if sample.IsSpeaking && sample.Volume > VolumeThreshold {
		a.remote.Put(sample.Username, sample.Volume)
	} else {
		a.remote.Delete(sample.Username)
	}
	a.feed.Publish(a.viewLocked())
	a.mu.Unlock()
}

// View computes who is speaking now and their last volumes.
func (a *Aggregator) View() model.SpeakingView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// LocalSpeaking reports the local flag from the latest volume tick.
func (a *Aggregator) LocalSpeaking() (bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localSpeaking, a.localVolume
}

// Observe streams views until ctx is done.
func (a *Aggregator) Observe(ctx context.Context) <-chan model.SpeakingView {
	return a.feed.Subscribe(ctx)
}

// Run ingests the other participants' broadcasts until ctx is done or the
// store closes the stream. Only a failure to start listening is returned.
func (a *Aggregator) Run(ctx context.Context) error {
	samples, err := a.store.Listen(ctx, a.callID)
	if err != nil {
		return fmt.Errorf("listen speaking %s: %w", a.callID, err)
	}
	for s := range samples {
		a.Ingest(s)
	}
	if ctx.Err() == nil {
		a.logger.Warn("speaking stream closed")
	}
	return nil
}

func (a *Aggregator) viewLocked() model.SpeakingView {
	a.remote.Delete(a.self)

	view := model.SpeakingView{
		CallID:   a.callID,
		Speaking: make(map[string]bool),
		Volumes:  make(map[string]int),
	}
	a.remote.Range(func(user string, volume int, age time.Duration) {
		view.Speaking[user] = age < SpeakingWindow
		view.Volumes[user] = volume
	})
	return view
}
