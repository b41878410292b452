// Package bus implements a small topic-keyed publish/subscribe broker used
// to report exploration progress and to request an early stop.
package bus

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Well-known topics.
const (
	TopicRun      = "run"      // a run finished
	TopicFault    = "fault"    // a run discovered a program fault
	TopicFrontier = "frontier" // frontier statistics changed
	TopicSolve    = "solve"    // a solver call returned
	TopicReport   = "report"   // final exploration report
	TopicStop     = "stop"     // request to stop exploration
)

// Record is a structured message of named fields.
type Record map[string]interface{}

// String returns the record fields sorted by name.
func (r Record) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", k, r[k])
	}
	return sb.String()
}

// Handler receives records published on a subscribed topic.
type Handler func(topic string, rec Record)

// Broker delivers each published record to every handler subscribed to its
// topic. Delivery is synchronous, in the publishing goroutine.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	seq    int
	closed bool

	Log logrus.FieldLogger
}

// NewBroker returns a new broker.
func NewBroker() *Broker {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &Broker{
		subs: make(map[string][]*Subscription),
		Log:  log,
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	broker  *Broker
	id      int
	topic   string
	handler Handler
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes the handler from the broker. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.broker.unsubscribe(s)
}

// Subscribe registers fn for records published on topic.
// Subscribing to a closed broker returns a subscription that never fires.
func (b *Broker) Subscribe(topic string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &Subscription{broker: b, id: b.seq, topic: topic, handler: fn}
	if b.closed {
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.Log.WithField("topic", topic).Debug("[bus] subscribe")
	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	for i := range subs {
		if subs[i].id == sub.id {
			b.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			b.Log.WithField("topic", sub.topic).Debug("[bus] unsubscribe")
			return
		}
	}
}

// Publish delivers rec to every subscriber of topic. Records published
// after Close are dropped.
func (b *Broker) Publish(topic string, rec Record) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	b.Log.WithField("topic", topic).Debugf("[bus] publish: %s", rec)
	for _, sub := range subs {
		sub.handler(topic, rec)
	}
}

// Subscribers returns the number of handlers subscribed to topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close removes every subscription and drops all later publishes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*Subscription)
	return nil
}
