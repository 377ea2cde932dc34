// Package cache holds terminal job snapshots and carries progress events
// between the process running a job and the processes watching it.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// subscriberBuffer is how many undelivered events a subscriber may hold.
const subscriberBuffer = 100

// Client is a byte-valued key store with per-entry TTL.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// PubSub fans JSON messages out over named channels. Delivery is best
// effort: a subscriber that falls behind loses messages.
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// JobSnapshotKey is the cache key of a terminal job snapshot.
func JobSnapshotKey(jobID string) string {
	return "merge:job:" + jobID
}

// ProgressChannel is the pub/sub channel carrying a job's progress events.
func ProgressChannel(jobID string) string {
	return "merge:progress:" + jobID
}
