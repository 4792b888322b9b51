package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/wire"
)

const eventsChannel = "echochat.gateway.events"

// envelope is the JSON structure published to the gateway events channel (the Pub/Sub Bridge, §4.8/§6). A nil or
// empty Recipients list means "deliver to every identified connection on every worker"; a non-empty list scopes
// delivery to those users' connections only, wherever in the fleet they are registered.
type envelope struct {
	Type       string          `json:"t"`
	Data       json.RawMessage `json:"d"`
	Recipients []string        `json:"recipients,omitempty"`
}

// Publisher serialises dispatch events and publishes them to a Valkey pub/sub channel for consumption by every
// gateway worker's Hub.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new gateway event publisher.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// Publish broadcasts a dispatch event to every identified connection across the fleet. Used for events whose own
// payload already names the affected scope (force_logout carries user_id/session_id for the client to check) and for
// genuinely global events (global_announcement). Satisfies auth.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, eventType wire.DispatchEvent, data any) error {
	return p.publish(ctx, eventType, data, nil)
}

// PublishTo delivers a dispatch event only to the named recipients' connections, wherever they are connected in the
// fleet. Used by the Ciphertext Relay, Room Policy Engine, WebRTC Signaling Relay, and friend graph for
// recipient-scoped fan-out: a DM's one recipient, a room's or group's member list, a friend list's presence targets.
func (p *Publisher) PublishTo(ctx context.Context, recipients []uuid.UUID, eventType wire.DispatchEvent, data any) error {
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.String()
	}
	return p.publish(ctx, eventType, data, ids)
}

func (p *Publisher) publish(ctx context.Context, eventType wire.DispatchEvent, data any, recipients []string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal gateway event data: %w", err)
	}
	payload, err := json.Marshal(envelope{Type: string(eventType), Data: raw, Recipients: recipients})
	if err != nil {
		return fmt.Errorf("marshal gateway event envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish gateway event: %w", err)
	}
	return nil
}
