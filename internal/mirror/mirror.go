// Package mirror pushes live driver state into downstream sinks (Redis GEO,
// Kafka) on a best-effort basis. The relay keeps working when every sink is
// down; failures are logged, never propagated.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

// Sink receives live driver state. Implementations must be safe for
// concurrent use.
type Sink interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
	RemoveDriver(ctx context.Context, driverID string) error
	Close() error
}

// Fanout forwards each update to every configured sink in the background.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, timeout: 2 * time.Second, logger: logger}
}

func (f *Fanout) Publish(loc models.DriverLocation) {
	for _, s := range f.sinks {
		s := s
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := s.PublishLocation(ctx, loc); err != nil {
				f.logger.Warn("mirror publish failed", "driver_id", loc.DriverID, "error", err)
			}
		}()
	}
}

func (f *Fanout) Remove(driverID string) {
	for _, s := range f.sinks {
		s := s
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := s.RemoveDriver(ctx, driverID); err != nil {
				f.logger.Warn("mirror remove failed", "driver_id", driverID, "error", err)
			}
		}()
	}
}

func (f *Fanout) Close() {
	for _, s := range f.sinks {
		_ = s.Close()
	}
}

// RedisMirror maintains a GEO set plus a metadata hash per driver so backend
// jobs can query positions without touching the relay.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Loc.Lon, Latitude: loc.Loc.Lat, Name: loc.DriverID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"status":  string(loc.Status),
		"speed":   strconv.FormatFloat(loc.Speed, 'f', -1, 64),
		"updated": loc.Updated.Format(time.RFC3339),
	}).Err()
}

func (r *RedisMirror) RemoveDriver(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

func (r *RedisMirror) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }

// KafkaMirror publishes every accepted location update to a topic, keyed by
// driver id so per-driver ordering is preserved.
type KafkaMirror struct {
	writer *kafka.Writer
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaMirror{writer: w}
}

func (k *KafkaMirror) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b})
}

func (k *KafkaMirror) RemoveDriver(ctx context.Context, driverID string) error {
	off := models.DriverLocation{DriverID: driverID, Status: models.StatusOffline, Updated: time.Now()}
	b, err := json.Marshal(off)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(driverID), Value: b})
}

func (k *KafkaMirror) Close() error { return k.writer.Close() }
