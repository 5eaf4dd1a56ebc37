package kgraph

import (
	"log"
	"os"
	"strconv"
)

// StorageType selects the C1 storage backend.
type StorageType string

const (
	StorageJSONL  StorageType = "jsonl"
	StorageSQLite StorageType = "sqlite"
	StorageDgraph StorageType = "dgraph"
)

// VectorBackend selects the C5 vector store implementation.
type VectorBackend string

const (
	VectorMemory VectorBackend = "memory"
	VectorBadger VectorBackend = "badger"
	VectorRedis  VectorBackend = "redis"
)

// SearchLimits bounds pagination and default page size, per §4.3.
type SearchLimits struct {
	Min     int
	Max     int
	Default int
}

// HybridWeights weights the three fusion strategies, per §4.6. Must
// sum to > 0.
type HybridWeights struct {
	Semantic float64
	Lexical  float64
	Symbolic float64
}

// Config configures a Service end to end. Mirrors the teacher's
// plain-struct-plus-DefaultConfig shape (internal/memory.Config in
// the teacher repo) rather than a third-party config loader.
type Config struct {
	StoragePath   string
	StorageType   StorageType
	VectorBackend VectorBackend
	VectorPath    string // badger directory / redis address, backend-dependent

	EmbeddingProvider string // "hash" (default) or "http"
	EmbeddingURL      string

	CompactionThreshold int
	SearchLimits        SearchLimits
	HybridWeights       HybridWeights

	FuzzyThreshold        float64
	FuzzyWorkerMinEntities int

	IndexerQueueThreshold int
	IndexerFlushInterval  int // seconds
	IndexerRateLimitRPS   float64

	WorkerPoolSize int

	Logger Logger
}

// DefaultConfig returns the engine defaults named throughout spec §4.
func DefaultConfig() *Config {
	return &Config{
		StoragePath:            "./kgraph.jsonl",
		StorageType:            StorageJSONL,
		VectorBackend:          VectorMemory,
		EmbeddingProvider:      "hash",
		CompactionThreshold:    1000,
		SearchLimits:           SearchLimits{Min: 1, Max: 1000, Default: 50},
		HybridWeights:          HybridWeights{Semantic: 0.5, Lexical: 0.3, Symbolic: 0.2},
		FuzzyThreshold:         0.7,
		FuzzyWorkerMinEntities: 200,
		IndexerQueueThreshold:  50,
		IndexerFlushInterval:   5,
		IndexerRateLimitRPS:    20,
		WorkerPoolSize:         4,
		Logger:                 defaultLogger{},
	}
}

// ConfigFromEnv applies the environment variables named in spec §6 on
// top of DefaultConfig.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("MEMORY_STORAGE_TYPE"); v != "" {
		cfg.StorageType = StorageType(v)
	}
	if v := os.Getenv("MEMORY_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("SEARCH_LIMITS.MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchLimits.Min = n
		}
	}
	if v := os.Getenv("SEARCH_LIMITS.MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchLimits.Max = n
		}
	}
	if v := os.Getenv("SEARCH_LIMITS.DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchLimits.Default = n
		}
	}
	return cfg
}

// Logger is the minimal logging surface consulted for local-recovery
// paths (corrupt log lines, listener panics, per-item embed
// fallback). The teacher carries no structured-logging dependency;
// this engine follows the same convention (see DESIGN.md).
type Logger interface {
	Printf(format string, args ...any)
}

type defaultLogger struct{}

func (defaultLogger) Printf(format string, args ...any) { log.Printf(format, args...) }
