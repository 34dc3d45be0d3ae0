package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

const vectorKeyPrefix = "mocab:vector"

// keyValue is the subset of redis commands the cache needs.
type keyValue interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedVector is an assembled feature vector and the inputs it was built
// from.
type CachedVector struct {
	Model       string                     `json:"model"`
	PatientID   string                     `json:"patient_id"`
	Reference   string                     `json:"reference"`
	Columns     []string                   `json:"columns"`
	Vector      []interface{}              `json:"vector"`
	Inputs      map[string]transform.Input `json:"inputs"`
	AssembledAt time.Time                  `json:"assembled_at"`
}

// VectorCache keeps assembled vectors in redis keyed by model, patient and
// reference minute.
type VectorCache struct {
	client keyValue
	ttl    time.Duration
}

func NewVectorCache(client keyValue, ttl time.Duration) *VectorCache {
	return &VectorCache{client: client, ttl: ttl}
}

// VectorKey is the redis key of a vector. ref is truncated to the minute.
func VectorKey(model, patientID string, ref time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", vectorKeyPrefix, model, patientID, ref.UTC().Format("2006-01-02T15:04"))
}

// Get returns the cached vector, or false on a miss.
func (c *VectorCache) Get(ctx context.Context, model, patientID string, ref time.Time) (*CachedVector, bool, error) {
	key := VectorKey(model, patientID, ref)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var v CachedVector
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Dropping unreadable cached vector")
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	for i, value := range v.Vector {
		v.Vector[i] = transform.Canonical(value)
	}
	for name, in := range v.Inputs {
		in.Value = transform.Canonical(in.Value)
		v.Inputs[name] = in
	}
	return &v, true, nil
}

func (c *VectorCache) Put(ctx context.Context, ref time.Time, v *CachedVector) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := VectorKey(v.Model, v.PatientID, ref)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Cached feature vector")
	return nil
}

func (c *VectorCache) Invalidate(ctx context.Context, model, patientID string, ref time.Time) error {
	return c.client.Del(ctx, VectorKey(model, patientID, ref)).Err()
}
