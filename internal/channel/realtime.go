package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RealtimeChannel is the pub/sub channel the socket gateway subscribes to
// for one user.
func RealtimeChannel(orgID, userID fmt.Stringer) string {
	return fmt.Sprintf("realtime:%s:%s", orgID, userID)
}

type pushEnvelope struct {
	Type           string    `json:"type"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Payload        any       `json:"payload,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// RedisPush publishes events over Redis pub/sub.
type RedisPush struct {
	rdb *goredis.Client
	now func() time.Time
}

func NewRedisPush(rdb *goredis.Client) *RedisPush {
	return &RedisPush{rdb: rdb, now: time.Now}
}

// Push publishes event to the user's realtime channel. Having no
// subscribers is not an error.
func (p *RedisPush) Push(ctx context.Context, event PushEvent) error {
	data, err := json.Marshal(pushEnvelope{
		Type:           event.EventType,
		UserID:         event.UserID.String(),
		OrganizationID: event.OrganizationID.String(),
		Payload:        event.Payload,
		SentAt:         p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}

	if err := p.rdb.Publish(ctx, RealtimeChannel(event.OrganizationID, event.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
