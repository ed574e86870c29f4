// Package events is the in-process pub/sub surface of the daemon. Publishing
// never blocks: slow subscribers lose their oldest events and the loss is
// counted, so the scan pipeline cannot be stalled by a stuck consumer.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Topic names carried on the bus.
const (
	TopicJobCreated   = "job:created"
	TopicJobStarted   = "job:started"
	TopicJobProgress  = "job:progress"
	TopicJobCompleted = "job:completed"
	TopicJobFailed    = "job:failed"
	TopicJobRetrying  = "job:retrying"
	TopicJobCanceled  = "job:canceled"

	TopicScanProgress  = "scan:progress"
	TopicScanDuplicate = "scan:duplicate"
	TopicScanCompleted = "scan:completed"
	TopicScanFailed    = "scan:failed"

	TopicCacheHit  = "cache:hit"
	TopicCacheMiss = "cache:miss"
)

// Event is one bus message. Data carries topic-specific extras.
type Event struct {
	Topic      string         `json:"topic"`
	At         time.Time      `json:"at"`
	JobID      string         `json:"job_id,omitempty"`
	ScanID     string         `json:"scan_id,omitempty"`
	Repository string         `json:"repository,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Progress   int            `json:"progress,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Filter decides whether a subscriber receives an event.
type Filter func(Event) bool

// MatchTopic matches a pattern against a topic. A trailing "*" matches any
// suffix, so "job:*" covers the whole job lifecycle.
func MatchTopic(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return false
}

// FilterTopics builds a filter accepting any of the given patterns.
func FilterTopics(patterns ...string) Filter {
	return func(e Event) bool {
		for _, p := range patterns {
			if MatchTopic(p, e.Topic) {
				return true
			}
		}
		return false
	}
}

// Subscription is one subscriber's bounded mailbox.
type Subscription struct {
	ch      chan Event
	filter  Filter
	dropped atomic.Uint64
	closed  bool
}

// Events is the receive channel. It is closed when the subscription is
// removed or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the mailbox was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	now     func() time.Time
	dropped atomic.Uint64
}

// Dropped returns the total number of events discarded across all
// subscriptions over the lifetime of the bus.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

const defaultBuffer = 64

// Subscribe registers a mailbox of the given capacity. A nil filter receives
// everything.
func (b *Bus) Subscribe(buffer int, filter Filter) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{
		ch:     make(chan Event, buffer),
		filter: filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	sub.closed = true
}

// Publish delivers the event to every matching subscriber without blocking.
// When a mailbox is full its oldest event is discarded to make room.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		for {
			select {
			case sub.ch <- e:
			default:
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		sub.closed = true
	}
	b.subs = nil
}
