package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/mocab/pkg/transform"
)

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = string(value.([]byte))
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

var ref = time.Date(2024, 3, 15, 12, 0, 42, 0, time.UTC)

func TestVectorKey(t *testing.T) {
	assert.Equal(t, "mocab:vector:qcsi:p1:2024-03-15T12:00", VectorKey("qcsi", "p1", ref))
	taipei := time.FixedZone("CST", 8*3600)
	assert.Equal(t, VectorKey("qcsi", "p1", ref), VectorKey("qcsi", "p1", ref.In(taipei)))
}

func TestVectorCacheRoundTrip(t *testing.T) {
	client := newMemoryRedis()
	cache := NewVectorCache(client, time.Minute)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "qcsi", "p1", ref)
	require.NoError(t, err)
	assert.False(t, found)

	stored := &CachedVector{
		Model:     "qcsi",
		PatientID: "p1",
		Columns:   []string{"respiratory_rate", "spo2", "o2_flow_rate"},
		Vector:    []interface{}{int64(1), 22.5, nil},
		Inputs: map[string]transform.Input{
			"spo2": {Value: int64(90), Date: "2024-03-15T07:30"},
		},
	}
	require.NoError(t, cache.Put(ctx, ref, stored))
	assert.Equal(t, time.Minute, client.ttl[VectorKey("qcsi", "p1", ref)])

	got, found, err := cache.Get(ctx, "qcsi", "p1", ref.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{int64(1), 22.5, nil}, got.Vector, "numbers keep their kind")
	assert.Equal(t, transform.Input{Value: int64(90), Date: "2024-03-15T07:30"}, got.Inputs["spo2"])

	require.NoError(t, cache.Invalidate(ctx, "qcsi", "p1", ref))
	_, found, err = cache.Get(ctx, "qcsi", "p1", ref)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVectorCacheDropsUnreadableEntries(t *testing.T) {
	client := newMemoryRedis()
	client.data[VectorKey("qcsi", "p1", ref)] = "{not json"
	cache := NewVectorCache(client, time.Minute)

	_, found, err := cache.Get(context.Background(), "qcsi", "p1", ref)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, client.data)
}

func TestVectorCacheErrors(t *testing.T) {
	client := newMemoryRedis()
	client.err = errors.New("connection refused")
	cache := NewVectorCache(client, time.Minute)

	_, _, err := cache.Get(context.Background(), "qcsi", "p1", ref)
	assert.Error(t, err)
	assert.Error(t, cache.Put(context.Background(), ref, &CachedVector{Model: "qcsi", PatientID: "p1"}))
}
