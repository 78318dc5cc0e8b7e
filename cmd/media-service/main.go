package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "run mode: all|api|worker")
	flag.Parse()

	cfg := loadConfig()
	st, closers, err := newAppState(cfg)
	if err != nil {
		logger.Error("failed to initialize app state", "error", err)
		os.Exit(1)
	}
	defer closers.close()

	switch *mode {
	case "api":
		runAPI(st)
	case "worker":
		runWorker(st)
	case "all":
		go runWorker(st)
		runAPI(st)
	default:
		logger.Error("unknown run mode", "mode", *mode)
		os.Exit(1)
	}
}

func loadConfig() config {
	return config{
		redisAddr:      envOrDefault("REDIS_ADDR", "redis:6379"),
		redisPassword:  os.Getenv("REDIS_PASSWORD"),
		redisDB:        envInt("REDIS_DB", 0),
		queueName:      envOrDefault("ASYNQ_QUEUE", "default"),
		concurrency:    envInt("ASYNQ_CONCURRENCY", 20),
		apiAddr:        envOrDefault("MEDIA_API_ADDR", ":8001"),
		dbPath:         envOrDefault("MEDIA_DB_PATH", "/app/media.db"),
		minioEndpoint:  envOrDefault("MINIO_ENDPOINT", "minio:9000"),
		minioAccessKey: envOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		minioSecretKey: envOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		minioBucket:    envOrDefault("MINIO_BUCKET", "media"),
		minioUseSSL:    envBool("MINIO_USE_SSL", false),
		publicBaseURL:  envOrDefault("PUBLIC_BASE_URL", "http://localhost:9000"),
		enrichBaseURL:  envOrDefault("ENRICH_BASE_URL", "https://api.openai.com"),
		enrichAPIKey:   os.Getenv("ENRICH_API_KEY"),
		enrichModel:    envOrDefault("ENRICH_MODEL", "gpt-4o"),
		maxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
	}
}

type appClosers struct {
	redis     *redis.Client
	asynqCli  *asynq.Client
	store     *store
	inspector *asynq.Inspector
}

func (c appClosers) close() {
	c.inspector.Close()
	c.asynqCli.Close()
	c.store.Close()
	c.redis.Close()
}

func newAppState(cfg config) (*appState, appClosers, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, appClosers{}, err
	}

	store, err := openStore(cfg.dbPath)
	if err != nil {
		return nil, appClosers{}, err
	}

	objects, err := newObjectStore(context.Background(), cfg)
	if err != nil {
		return nil, appClosers{}, err
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.redisAddr, Password: cfg.redisPassword, DB: cfg.redisDB}
	asynqCli := asynq.NewClient(redisOpt)
	inspector := asynq.NewInspector(redisOpt)

	st := &appState{
		cfg:                cfg,
		redis:              rdb,
		asynqCli:           asynqCli,
		store:              store,
		objects:            objects,
		enrich:             newEnrichClient(cfg),
		inspector:          inspector,
		downloadHTTPClient: &http.Client{Timeout: 30 * time.Second},
		taskRetryInfo:      asynqRetryInfo,
	}
	return st, appClosers{redis: rdb, asynqCli: asynqCli, store: store, inspector: inspector}, nil
}

func runAPI(st *appState) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/media/upload", st.handleUpload)
	mux.HandleFunc("/api/media", st.handleMediaList)
	mux.HandleFunc("/api/media/", st.handleMediaSubroutes)
	mux.HandleFunc("/api/search", st.handleSearch)
	mux.HandleFunc("/api/tags", st.handleTags)
	mux.HandleFunc("/api/tasks/status", st.handleTaskStatus)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("media api listening", "addr", st.cfg.apiAddr)
	if err := http.ListenAndServe(st.cfg.apiAddr, loggingMiddleware(mux)); err != nil {
		logger.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func runWorker(st *appState) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: st.cfg.redisAddr, Password: st.cfg.redisPassword, DB: st.cfg.redisDB},
		asynq.Config{
			Concurrency: st.cfg.concurrency,
			Queues: map[string]int{
				st.cfg.queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeResize, st.processResizeTask)
	mux.HandleFunc(taskTypeEnrich, st.processEnrichTask)
	mux.HandleFunc(taskTypeReenrich, st.processReenrichTask)

	logger.Info("media worker started",
		"queue", st.cfg.queueName,
		"concurrency", st.cfg.concurrency,
	)
	if err := srv.Run(mux); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
