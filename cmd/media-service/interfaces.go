package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"media-manager/pkg/mediacatalog"
)

// RedisClient abstracts Redis operations used by API/task state flows.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// AsynqClient abstracts task enqueue operations.
type AsynqClient interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueInspector abstracts queue info inspection.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// MediaStore abstracts the persistent media catalog.
type MediaStore interface {
	Close() error
	InsertMedia(rec *mediacatalog.MediaRecord) error
	GetMedia(id string) (*mediacatalog.MediaRecord, error)
	UpdateVariantURLs(id, mediumURL, thumbnailURL string) error
	UpdateEnrichment(id string, a aiAnalysis) error
	UpdateMetadata(id string, upd mediaMetadataUpdate) error
	UpdateAllURLs(id, originalURL, mediumURL, thumbnailURL string) error
	DeleteMedia(id string) error
	SearchMedia(q searchQuery) ([]mediacatalog.MediaRecord, int, error)
	AllTags() ([]string, error)
}

// ObjectStore abstracts durable blob storage with public URL issuance.
type ObjectStore interface {
	// Put stores data under key (idempotent overwrite) and returns the
	// public URL of the blob.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyFor derives the deterministic storage key for one of exactly
	// three variants: original, medium, thumbnail.
	KeyFor(id, variant, ext string) string
}

// EnrichmentClient maps an image to structured caption/tag metadata.
type EnrichmentClient interface {
	Analyze(ctx context.Context, image []byte) (*aiAnalysis, error)
	// AnalyzeOrFallback never fails; it substitutes the client-level
	// fallback payload on any error.
	AnalyzeOrFallback(ctx context.Context, image []byte) *aiAnalysis
}

var _ RedisClient = (*redis.Client)(nil)
var _ AsynqClient = (*asynq.Client)(nil)
var _ QueueInspector = (*asynq.Inspector)(nil)
var _ MediaStore = (*store)(nil)
var _ ObjectStore = (*minioObjectStore)(nil)
var _ EnrichmentClient = (*openAIEnrichClient)(nil)
