package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memo stores the serialized result of every completed step of a run.
type Memo interface {
	Get(ctx context.Context, runID, stepID string) ([]byte, bool, error)
	Put(ctx context.Context, runID, stepID string, value []byte) error
	// Forget drops every step result of a run.
	Forget(ctx context.Context, runID string) error
}

// MemoryMemo keeps step results in process memory.
type MemoryMemo struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemoryMemo() *MemoryMemo {
	return &MemoryMemo{data: make(map[string]map[string][]byte)}
}

func (m *MemoryMemo) Get(_ context.Context, runID, stepID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[runID][stepID]
	return v, ok, nil
}

func (m *MemoryMemo) Put(_ context.Context, runID, stepID string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.data[runID]
	if !ok {
		steps = make(map[string][]byte)
		m.data[runID] = steps
	}
	steps[stepID] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryMemo) Forget(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, runID)
	return nil
}

// RedisMemo keeps step results in Redis so they survive worker restarts.
type RedisMemo struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisMemo stores results under "docmind:run:<run>:step:<step>" for ttl.
func NewRedisMemo(client redis.UniversalClient, ttl time.Duration) *RedisMemo {
	return &RedisMemo{client: client, prefix: "docmind:run:", ttl: ttl}
}

func (m *RedisMemo) key(runID, stepID string) string {
	return m.prefix + runID + ":step:" + stepID
}

func (m *RedisMemo) Get(ctx context.Context, runID, stepID string) ([]byte, bool, error) {
	v, err := m.client.Get(ctx, m.key(runID, stepID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read step memo: %w", err)
	}
	return v, true, nil
}

func (m *RedisMemo) Put(ctx context.Context, runID, stepID string, value []byte) error {
	if err := m.client.Set(ctx, m.key(runID, stepID), value, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write step memo: %w", err)
	}
	return nil
}

func (m *RedisMemo) Forget(ctx context.Context, runID string) error {
	var keys []string
	iter := m.client.Scan(ctx, 0, m.prefix+runID+":step:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to list step memos: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete step memos: %w", err)
	}
	return nil
}
