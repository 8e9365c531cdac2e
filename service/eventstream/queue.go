// Package eventstream is the durable handoff between the hub subscriber and the
// stream consumer: an append-only log with consumer groups and at-least-once delivery.
package eventstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one reserved item. ID is opaque to callers and only handed back to Ack.
type Entry struct {
	ID         string
	Data       []byte
	EnqueuedAt time.Time
}

type Queue interface {
	// Add appends payloads in order.
	Add(ctx context.Context, stream string, payloads ...[]byte) error
	// CreateGroup is idempotent.
	CreateGroup(ctx context.Context, stream, group string) error
	// Reserve returns up to count never-delivered entries, waiting a backend-defined time.
	Reserve(ctx context.Context, stream, group, consumer string, count int) ([]Entry, error)
	// Ack removes ids from the group's pending set.
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Size(ctx context.Context, stream string) (int64, error)
	// ClaimStale re-reserves entries pending longer than minIdle.
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Entry, error)
	// Trim drops entries enqueued before the cutoff regardless of ack state.
	Trim(ctx context.Context, stream string, before time.Time) (int64, error)
}

// StreamKey names the stream a shard's events flow through.
func StreamKey(hubHost, shardKey string) string {
	return fmt.Sprintf("hub:%s:evt:msg:%s", hubHost, shardKey)
}

// parseStreamID reads the millisecond part of a "<ms>-<seq>" id.
func parseStreamID(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
