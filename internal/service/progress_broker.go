package service

import (
	"log/slog"
	"sync"

	"github.com/iconidentify/ytclip/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

type subscriber struct {
	videoID domain.VideoID
	ch      chan domain.ProgressEvent
}

// ProgressBroker fans progress events out to SSE subscribers keyed by video ID.
// Publishing never blocks: a full subscriber drops the event.
type ProgressBroker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	subSeq      uint64
	last        map[domain.VideoID]domain.ProgressEvent
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker(logger *slog.Logger) *ProgressBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressBroker{
		logger:      logger,
		subscribers: make(map[uint64]subscriber),
		last:        make(map[domain.VideoID]domain.ProgressEvent),
	}
}

// Subscribe registers a subscriber for one video. If a run is in progress its
// latest event is delivered first. The caller must call Unsubscribe when done.
func (b *ProgressBroker) Subscribe(videoID domain.VideoID) (uint64, <-chan domain.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subSeq++
	id := b.subSeq
	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	b.subscribers[id] = subscriber{videoID: videoID, ch: ch}

	if ev, ok := b.last[videoID]; ok {
		ch <- ev
	}

	b.logger.Debug("progress subscriber added", "subscriber_id", id, "video_id", videoID, "total_subscribers", len(b.subscribers))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *ProgressBroker) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
		b.logger.Debug("progress subscriber removed", "subscriber_id", id, "total_subscribers", len(b.subscribers))
	}
}

// Publish delivers an event to every subscriber of its video.
func (b *ProgressBroker) Publish(ev domain.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Status.IsTerminal() {
		delete(b.last, ev.VideoID)
	} else {
		b.last[ev.VideoID] = ev
	}

	for id, sub := range b.subscribers {
		if sub.videoID != ev.VideoID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("progress subscriber buffer full, dropping event", "subscriber_id", id, "video_id", ev.VideoID, "status", ev.Status)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *ProgressBroker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
