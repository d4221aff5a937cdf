package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/assets"
	"github.com/techbridge/techbridge/pkg/coordinator"
	"github.com/techbridge/techbridge/pkg/entity"
	"github.com/techbridge/techbridge/pkg/log"
)

type statePayload struct {
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	DeviceClass string         `json:"deviceClass,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Value       any            `json:"value"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastUpdate  time.Time      `json:"lastUpdate"`
}

// Publisher publishes the entities of every update it receives as retained
// JSON states. Unchanged states are not published again.
type Publisher struct {
	broker Broker
	lookup *assets.Lookup
	topics Topics
	qos    byte

	mu   sync.Mutex
	last map[string][]byte
}

// NewPublisher returns a publisher sending to broker.
func NewPublisher(broker Broker, lookup *assets.Lookup, cfg Config) *Publisher {
	return &Publisher{
		broker: broker,
		lookup: lookup,
		topics: Topics{Prefix: cfg.TopicPrefix},
		qos:    byte(cfg.QoS),
		last:   map[string][]byte{},
	}
}

// Listener returns the coordinator listener that publishes updates.
func (p *Publisher) Listener() coordinator.Listener {
	return func(ctx context.Context, u coordinator.Update) {
		if err := p.Publish(ctx, u); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish module state", slog.Any("error", err))
		}
	}
}

// Publish publishes the availability of the module and, when the update
// succeeded, the state of each entity. The first publish error is returned
// after every entity was attempted.
func (p *Publisher) Publish(ctx context.Context, u coordinator.Update) error {
	availability := statusOnline
	if u.Err != nil {
		availability = statusOffline
	}
	if err := p.publish(p.topics.Availability(u.UDID), []byte(availability)); err != nil {
		return err
	}
	if u.Err != nil {
		return nil
	}

	var firstErr error
	var published int
	for _, e := range entity.Build(p.lookup, u.Data) {
		b, err := json.Marshal(statePayload{
			Name:        e.Name,
			Icon:        e.Icon,
			DeviceClass: e.DeviceClass,
			Unit:        e.Unit,
			Value:       e.Value,
			Attributes:  e.Attributes,
			LastUpdate:  u.Data.LastUpdate,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		topic := p.topics.State(u.UDID, e.Platform, e.UniqueID)
		if !p.changed(topic, b) {
			continue
		}
		if err := p.publish(topic, b); err != nil {
			p.forget(topic)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		published++
	}
	log.Ctx(ctx).DebugContext(ctx, "published module state", slog.String("udid", u.UDID), slog.Int("published", published))
	return firstErr
}

func (p *Publisher) publish(topic string, payload []byte) error {
	return p.broker.Publish(topic, payload, p.qos, true)
}

// changed records payload for topic and returns true if it differs from the
// last one published. lastUpdate is excluded so an unchanged value is not
// republished on every refresh.
func (p *Publisher) changed(topic string, payload []byte) bool {
	key := stripLastUpdate(payload)
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[topic]; ok && bytes.Equal(prev, key) {
		return false
	}
	p.last[topic] = key
	return true
}

func (p *Publisher) forget(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, topic)
}

func stripLastUpdate(payload []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return payload
	}
	delete(m, "lastUpdate")
	b, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return b
}
