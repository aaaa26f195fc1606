package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"overlaycast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InstanceRecord describes a compositor instance joined to a session.
type InstanceRecord struct {
	InstanceID   string    `json:"instance_id"`
	SessionName  string    `json:"session_name"`
	UserName     string    `json:"user_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SessionRegistry tracks which instances are joined to which session. Entries
// expire unless refreshed.
type SessionRegistry struct {
	client     redis.UniversalClient
	instanceID string
	prefix     string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

func NewSessionRegistry(client redis.UniversalClient, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *SessionRegistry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SessionRegistry{
		client:     client,
		instanceID: instanceID,
		prefix:     "overlaycast:",
		ttl:        ttl,
		logger:     logger,
	}
}

// Register records this instance as joined to session.
func (r *SessionRegistry) Register(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(InstanceRecord{
		InstanceID:   r.instanceID,
		SessionName:  session.Name,
		UserName:     session.UserName,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal instance record: %w", err)
	}

	if err := r.client.Set(ctx, r.instanceKey(r.instanceID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	sessionKey := r.sessionKey(session.Name)
	if err := r.client.SAdd(ctx, sessionKey, r.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to add instance to session set: %w", err)
	}
	r.client.Expire(ctx, sessionKey, 2*r.ttl)

	r.logger.Debugw("Registered instance", "session", session.Name, "instance_id", r.instanceID)
	return nil
}

// Refresh extends the registration TTL.
func (r *SessionRegistry) Refresh(ctx context.Context) error {
	return r.client.Expire(ctx, r.instanceKey(r.instanceID), r.ttl).Err()
}

// Unregister removes this instance from sessionName.
func (r *SessionRegistry) Unregister(ctx context.Context, sessionName string) error {
	r.client.SRem(ctx, r.sessionKey(sessionName), r.instanceID)
	return r.client.Del(ctx, r.instanceKey(r.instanceID)).Err()
}

// Instances lists live instances joined to sessionName.
func (r *SessionRegistry) Instances(ctx context.Context, sessionName string) ([]InstanceRecord, error) {
	ids, err := r.client.SMembers(ctx, r.sessionKey(sessionName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session instances: %w", err)
	}

	records := make([]InstanceRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.instanceKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get instance %s: %w", id, err)
		}

		var record InstanceRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			r.logger.Warnw("Skipping malformed instance record", "instance_id", id, "error", err)
			continue
		}
		if record.SessionName == sessionName {
			records = append(records, record)
		}
	}
	return records, nil
}

// Heartbeat refreshes the registration every interval until ctx ends.
func (r *SessionRegistry) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warnw("Failed to refresh instance registration", "error", err)
			}
		}
	}
}

func (r *SessionRegistry) instanceKey(instanceID string) string {
	return r.prefix + "instance:" + instanceID
}

func (r *SessionRegistry) sessionKey(sessionName string) string {
	return r.prefix + "session:" + sessionName + ":instances"
}
