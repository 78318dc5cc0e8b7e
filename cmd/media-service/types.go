package main

import (
	"context"
	"net/http"
)

type config struct {
	redisAddr      string
	redisPassword  string
	redisDB        int
	queueName      string
	concurrency    int
	apiAddr        string
	dbPath         string
	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioBucket    string
	minioUseSSL    bool
	publicBaseURL  string
	enrichBaseURL  string
	enrichAPIKey   string
	enrichModel    string
	maxUploadBytes int64
}

// retryInfoFunc reports how often the current task has been retried and the
// configured maximum. Injected so stage handlers can be exercised outside
// the task runtime.
type retryInfoFunc func(ctx context.Context) (retried, maxRetry int, ok bool)

type appState struct {
	cfg                config
	redis              RedisClient
	asynqCli           AsynqClient
	store              MediaStore
	objects            ObjectStore
	enrich             EnrichmentClient
	inspector          QueueInspector
	downloadHTTPClient *http.Client
	taskRetryInfo      retryInfoFunc
}

type queueTaskStatus struct {
	Status    string      `json:"status"`
	Result    interface{} `json:"result,omitempty"`
	UpdatedAt string      `json:"updated_at"`
}

type resizeTaskPayload struct {
	TaskID      string `json:"task_id"`
	MediaID     string `json:"media_id"`
	OriginalURL string `json:"original_url"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimetype"`
}

type enrichTaskPayload struct {
	TaskID      string `json:"task_id"`
	MediaID     string `json:"media_id"`
	OriginalURL string `json:"original_url"`
}

type reenrichTaskPayload struct {
	TaskID  string `json:"task_id"`
	MediaID string `json:"media_id"`
}

type resizeResult struct {
	MediaID      string `json:"media_id"`
	MediumURL    string `json:"medium_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type enrichResult struct {
	MediaID string   `json:"media_id"`
	Tags    []string `json:"tags"`
	Title   string   `json:"title,omitempty"`
}

// aiAnalysis is the structured result of one enrichment call.
type aiAnalysis struct {
	Tags        []string `json:"tags"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AltText     string   `json:"altText"`
}

// mediaMetadataUpdate is a partial user edit; nil fields are left untouched.
type mediaMetadataUpdate struct {
	Tags        *[]string `json:"tags"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	AltText     *string   `json:"altText"`
}

func (u mediaMetadataUpdate) empty() bool {
	return u.Tags == nil && u.Title == nil && u.Description == nil && u.AltText == nil
}

type searchQuery struct {
	Text   string
	Tags   []string
	Source string
	Limit  int
	Offset int
}
