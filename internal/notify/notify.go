package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

// Notifier delivers a message to a user over whatever channel the deployment uses.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, title, body string, metadata map[string]string) error
}

// Message is the JSON document published for each notification.
type Message struct {
	UserID   uuid.UUID         `json:"user_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// ChannelFor returns the pub/sub channel a user's notifications are published on.
func ChannelFor(prefix string, userID uuid.UUID) string {
	return fmt.Sprintf("%s:user:%s", prefix, userID.String())
}

var ErrNoSubscribers = errors.New("no subscribers for notification channel")

// RedisNotifier publishes notifications on a per-user Redis channel. Push gateways and
// email or SMS relays subscribe to the channels they serve.
type RedisNotifier struct {
	client        *redis.Client
	prefix        string
	requireListen bool
	now           func() time.Time
}

func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if client == nil {
		panic("notify: redis client required")
	}
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisNotifier{client: client, prefix: prefix, now: time.Now}
}

// RequireSubscriber makes Send fail with ErrNoSubscribers when nobody received the message,
// so the caller retries instead of dropping it.
func (n *RedisNotifier) RequireSubscriber() *RedisNotifier {
	n.requireListen = true
	return n
}

func (n *RedisNotifier) Send(ctx context.Context, userID uuid.UUID, title, body string, metadata map[string]string) error {
	data, err := json.Marshal(Message{
		UserID:   userID,
		Title:    title,
		Body:     body,
		Metadata: metadata,
		SentAt:   n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}

	receivers, err := n.client.Publish(ctx, ChannelFor(n.prefix, userID), data).Result()
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	if receivers == 0 && n.requireListen {
		return ErrNoSubscribers
	}
	return nil
}

// LogNotifier only logs. Used in development and when no relay is deployed.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

func (n *LogNotifier) Send(_ context.Context, userID uuid.UUID, title, body string, metadata map[string]string) error {
	fields := []zap.Field{
		zap.String("user_id", userID.String()),
		zap.String("title", title),
		zap.String("body", body),
	}
	for k, v := range metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}
	n.logger.Info("notification", fields...)
	return nil
}
