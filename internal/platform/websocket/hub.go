// Package websocket fans domain events out to connected clients. Clients
// subscribe to topics such as "organizations:<id>" and receive every event
// published to them after the originating transaction commits.
package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	TopicUsers            = "users"
	TopicRoleApplications = "role_applications"
	TopicOrganizations    = "organizations"
	TopicAuditLogs        = "audit_logs"
	TopicSchedules        = "schedules"
	TopicAppointments     = "appointments"
	TopicInvestigations   = "investigations"
)

func OrgTopic(orgID string) string { return TopicOrganizations + ":" + orgID }

func OrgAuditTopic(orgID string) string { return TopicAuditLogs + ":" + orgID }

// RecordsTopic carries one patient's medical record changes.
func RecordsTopic(patientID string) string { return "records:" + patientID }

// MaxTopicsPerClient bounds how many topics one connection may follow.
const MaxTopicsPerClient = 64

type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriptionRevoked tells a client it lost access to Topic and will
// get nothing more from it.
const EventSubscriptionRevoked = "subscription.revoked"

// Client is one connection. Its topic set is owned by the hub and only
// touched under the hub lock. ctx carries the caller identity that topic
// access is checked against.
type Client struct {
	ID     string
	Send   chan []byte
	ctx    context.Context
	topics map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer), ctx: context.Background(), topics: make(map[string]struct{})}
}

// Hub routes events to topic subscribers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Client]struct{}
	clients   map[*Client]struct{}
	authorize atomic.Pointer[Authorizer]
	logger    zerolog.Logger
	dropped   atomic.Int64
	revoked   atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister drops every subscription of c and closes its Send channel.
// Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for t := range c.topics {
		h.detach(t, c)
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) detach(topic string, c *Client) {
	set := h.subs[topic]
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, topic)
	}
	delete(c.topics, topic)
}

// Subscribe adds topics to c and returns the ones refused because the
// client is at MaxTopicsPerClient.
func (h *Hub) Subscribe(c *Client, topics []string) (overflow []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if _, ok := c.topics[t]; ok {
			continue
		}
		if len(c.topics) >= MaxTopicsPerClient {
			overflow = append(overflow, t)
			continue
		}
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Client]struct{})
		}
		h.subs[t][c] = struct{}{}
		c.topics[t] = struct{}{}
	}
	return overflow
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if _, ok := c.topics[t]; ok {
			h.detach(t, c)
		}
	}
}

// Topics lists what c follows, sorted.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SetAuthorizer makes Publish re-check every subscriber before delivery.
func (h *Hub) SetAuthorizer(a Authorizer) {
	if a == nil {
		h.authorize.Store(nil)
		return
	}
	h.authorize.Store(&a)
}

// Publish delivers event to every subscriber of event.Topic. Subscribers
// that no longer pass the authorizer are unsubscribed instead. A client whose
// buffer is full misses the event; the publisher never blocks.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.subs[event.Topic]))
	for c := range h.subs[event.Topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	// The authorizer may hit the database, so it runs outside the lock.
	var denied map[*Client]bool
	if auth := h.authorize.Load(); auth != nil {
		for _, c := range subs {
			if !(*auth)(c.ctx, event.Topic) {
				if denied == nil {
					denied = make(map[*Client]bool)
				}
				denied[c] = true
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range subs {
		// Unsubscribed or unregistered while we were checking.
		if _, ok := c.topics[event.Topic]; !ok {
			continue
		}
		if denied[c] {
			h.revoke(c, event.Topic)
			continue
		}
		h.deliver(c, event.Topic, data)
	}
	return nil
}

func (h *Hub) deliver(c *Client, topic string, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debug().Str("client", c.ID).Str("topic", topic).Msg("client buffer full, event dropped")
	}
}

// revoke detaches c from topic and tells it so. Caller holds the write lock.
func (h *Hub) revoke(c *Client, topic string) {
	h.detach(topic, c)
	h.revoked.Add(1)
	h.logger.Info().Str("client", c.ID).Str("topic", topic).Msg("subscription revoked")
	notice, err := json.Marshal(Event{
		Type:         EventSubscriptionRevoked,
		Topic:        topic,
		ResourceType: "subscription",
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	h.deliver(c, topic, notice)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped counts deliveries skipped because a client buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Revoked counts subscriptions dropped because access was withdrawn.
func (h *Hub) Revoked() int64 { return h.revoked.Load() }
