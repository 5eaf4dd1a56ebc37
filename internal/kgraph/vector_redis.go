package kgraph

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisVectorPrefix = "kgraph:vector:"
	redisIndexName    = "kgraph:vector:idx"
	redisVectorDims   = 128 // matches HashEmbeddingProvider's default dimensionality
)

// RedisVectorStore implements VectorStore over Redis with a RediSearch
// FLAT vector field, for deployments that already run a
// RediSearch-enabled Redis and want the vector index co-located with
// other application caches rather than embedded in-process. Grounded
// on the teacher's RedisEpisodicStore: FT.CREATE schema setup,
// float32 byte serialization, and FT.SEARCH ...KNN queries.
type RedisVectorStore struct {
	client *redis.Client
}

// NewRedisVectorStore connects to addr and ensures the vector search
// index exists.
func NewRedisVectorStore(addr string) (*RedisVectorStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrapErr(KindStorageWrite, "connect to redis", err)
	}

	s := &RedisVectorStore{client: client}
	if err := s.createIndex(ctx); err != nil {
		return nil, wrapErr(KindStorageWrite, "create redis vector index", err)
	}
	return s, nil
}

func (s *RedisVectorStore) createIndex(ctx context.Context) error {
	if _, err := s.client.Do(ctx, "FT.INFO", redisIndexName).Result(); err == nil {
		return nil
	}
	args := []interface{}{
		"FT.CREATE", redisIndexName,
		"ON", "HASH",
		"PREFIX", "1", redisVectorPrefix,
		"SCHEMA",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", redisVectorDims,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
	}
	return s.client.Do(ctx, args...).Err()
}

func serializeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32s(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func (s *RedisVectorStore) key(name string) string { return redisVectorPrefix + name }

func (s *RedisVectorStore) Add(ctx context.Context, name string, vector []float32) error {
	return s.client.HSet(ctx, s.key(name), map[string]interface{}{
		"name":      name,
		"embedding": serializeFloat32s(vector),
	}).Err()
}

func (s *RedisVectorStore) Remove(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.key(name)).Err()
}

func (s *RedisVectorStore) Has(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(name)).Result()
	return n > 0, err
}

func (s *RedisVectorStore) Get(ctx context.Context, name string) ([]float32, bool, error) {
	val, err := s.client.HGet(ctx, s.key(name), "embedding").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return deserializeFloat32s(val), true, nil
}

func (s *RedisVectorStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisVectorPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisVectorStore) Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	if k <= 0 {
		k = 10
	}
	args := []interface{}{
		"FT.SEARCH", redisIndexName,
		fmt.Sprintf("*=>[KNN %d @embedding $query_vec AS score]", k),
		"PARAMS", "2", "query_vec", serializeFloat32s(query),
		"SORTBY", "score",
		"DIALECT", "2",
		"RETURN", "2", "name", "score",
	}
	result, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, wrapErr(KindSearchFailed, "redis vector search", err)
	}
	return parseRedisKNNResult(result)
}

func parseRedisKNNResult(result interface{}) ([]VectorMatch, error) {
	results, ok := result.([]interface{})
	if !ok || len(results) < 2 {
		return nil, nil
	}
	var matches []VectorMatch
	for i := 1; i < len(results); i++ {
		doc, ok := results[i].([]interface{})
		if !ok || len(doc) < 2 {
			continue
		}
		fields, ok := doc[1].([]interface{})
		if !ok {
			continue
		}
		m := VectorMatch{}
		for j := 0; j+1 < len(fields); j += 2 {
			switch fmt.Sprint(fields[j]) {
			case "name":
				m.Name = fmt.Sprint(fields[j+1])
			case "score":
				var cosineDistance float64
				fmt.Sscanf(fmt.Sprint(fields[j+1]), "%f", &cosineDistance)
				m.Similarity = 1 - cosineDistance
			}
		}
		if m.Name != "" {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func (s *RedisVectorStore) Close() error {
	return s.client.Close()
}
