package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
)

const defaultSubscriberBuffer = 64

// MessageKind tells a subscriber what a Message carries.
type MessageKind string

const (
	MessageRecord MessageKind = "record"
	MessageRead   MessageKind = "read"
	MessageResync MessageKind = "resync"
)

// Message is one delivery to a subscriber.
type Message struct {
	Kind   MessageKind              `json:"type"`
	Record *payloads.ActivityRecord `json:"record,omitempty"`
	Read   *payloads.ActivityRead   `json:"read,omitempty"`
	Reason string                   `json:"reason,omitempty"`
}

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("fanout bus closed")

// BusParams configure a Bus.
type BusParams struct {
	Logger           *logger.Logger
	Metrics          *metrics.FanoutMetrics
	SubscriberBuffer int
	DedupeWindow     int
}

// Bus is the single in-process fan-out point for live activity. Every screen
// of a client shares one subscription and filters by topic; delivery is
// best-effort per subscriber and a subscriber that falls behind is told to
// resync instead of blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	buffer  int
	seen    *Deduper
	logg    *logger.Logger
	metrics *metrics.FanoutMetrics
}

// NewBus builds an empty bus.
func NewBus(params BusParams) *Bus {
	buffer := params.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		seen:    NewDeduper(params.DedupeWindow),
		logg:    logg,
		metrics: params.Metrics,
	}
}

// Subscription receives records matching any of its topics. Read events are
// delivered on recipient topics only.
type Subscription struct {
	id       uint64
	topics   []Topic
	messages chan Message
	resync   chan string
	bus      *Bus
	once     sync.Once
}

// Messages is closed when the subscription or the bus is closed.
func (s *Subscription) Messages() <-chan Message { return s.messages }

// Resync fires when deliveries were lost and the consumer must re-fetch.
func (s *Subscription) Resync() <-chan string { return s.resync }

// Topics returns the filters this subscription was opened with.
func (s *Subscription) Topics() []Topic {
	out := make([]Topic, len(s.topics))
	copy(out, s.topics)
	return out
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) closeChannels() {
	s.once.Do(func() {
		close(s.messages)
		close(s.resync)
	})
}

func (s *Subscription) wants(rec payloads.ActivityRecord) (Topic, bool) {
	for _, topic := range s.topics {
		if topic.Matches(rec) {
			return topic, true
		}
	}
	return Topic{}, false
}

func (s *Subscription) wantsRead(read payloads.ActivityRead) bool {
	for _, topic := range s.topics {
		if topic.Kind == TopicRecipient && topic.ID == read.RecipientUserID {
			return true
		}
	}
	return false
}

// Subscribe registers a subscriber for the given topics.
func (b *Bus) Subscribe(topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := &Subscription{
		id:       b.nextID,
		topics:   append([]Topic(nil), topics...),
		messages: make(chan Message, b.buffer),
		resync:   make(chan string, 1),
		bus:      b,
	}
	b.subs[sub.id] = sub
	b.metrics.SetSubscribers(len(b.subs))
	return sub, nil
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.closeChannels()
	b.metrics.SetSubscribers(len(b.subs))
}

// PublishRecord delivers rec to every matching subscriber. A record id seen
// recently is dropped, which absorbs upstream redelivery.
func (b *Bus) PublishRecord(ctx context.Context, rec payloads.ActivityRecord) {
	if b.seen.Seen(rec.ID) {
		b.logg.Debug(b.logg.WithField(ctx, "record_id", rec.ID.String()), "duplicate record ignored by bus")
		return
	}
	msg := Message{Kind: MessageRecord, Record: &rec}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		topic, ok := sub.wants(rec)
		if !ok {
			continue
		}
		b.deliver(ctx, sub, msg, string(topic.Kind))
	}
}

// PublishRead tells the recipient's subscribers that records were marked read.
func (b *Bus) PublishRead(ctx context.Context, read payloads.ActivityRead) {
	msg := Message{Kind: MessageRead, Read: &read}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.wantsRead(read) {
			b.deliver(ctx, sub, msg, string(TopicRecipient))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, msg Message, topic string) {
	select {
	case sub.messages <- msg:
		b.metrics.IncDelivered(topic)
	default:
		b.metrics.IncDropped(topic)
		b.signal(sub, "overflow")
		logCtx := b.logg.WithFields(ctx, map[string]any{"subscription": sub.id, "topic": topic})
		b.logg.Warn(logCtx, "subscriber buffer full; resync requested")
	}
}

// ResyncAll asks every subscriber to re-fetch, e.g. after the upstream
// transport dropped and deliveries may have been missed.
func (b *Bus) ResyncAll(reason string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.signal(sub, reason)
	}
}

// signal must run with b.mu held so the channel cannot be closed underneath it.
func (b *Bus) signal(sub *Subscription, reason string) {
	select {
	case sub.resync <- reason:
		b.metrics.IncResync(reason)
	default:
	}
}

// SubscriberCount reports how many subscriptions are open.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.closeChannels()
		delete(b.subs, id)
	}
	b.metrics.SetSubscribers(0)
}
