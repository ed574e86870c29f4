package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces bridged events on the NATS side.
const subjectPrefix = "clonehound.events."

// Bridge forwards every bus event to a NATS server so external consumers can
// follow scans without attaching to the daemon process. The bridge is
// optional; the daemon runs fine without it.
type Bridge struct {
	bus    *Bus
	conn   *nats.Conn
	sub    *Subscription
	done   chan struct{}
	logger *log.Logger
}

// NewBridge connects to NATS and starts forwarding. Call Close to stop.
func NewBridge(bus *Bus, url string, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, err := nats.Connect(url, nats.Name("clonehound-event-bridge"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	b := &Bridge{
		bus:    bus,
		conn:   conn,
		sub:    bus.Subscribe(256, nil),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.forward()
	return b, nil
}

func (b *Bridge) forward() {
	defer close(b.done)
	for e := range b.sub.Events() {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := b.conn.Publish(Subject(e.Topic), payload); err != nil {
			b.logger.Printf("nats publish %s: %v", e.Topic, err)
		}
	}
}

// Subject maps a bus topic to its NATS subject, e.g. "job:completed" to
// "clonehound.events.job.completed".
func Subject(topic string) string {
	return subjectPrefix + strings.ReplaceAll(topic, ":", ".")
}

// Close stops forwarding, flushes buffered publishes, and closes the
// connection.
func (b *Bridge) Close() {
	b.bus.Unsubscribe(b.sub)
	<-b.done
	_ = b.conn.Flush()
	b.conn.Close()
}
