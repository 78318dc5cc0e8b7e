package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"media-manager/pkg/mediacatalog"
)

func (st *appState) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, st.cfg.maxUploadBytes)
	if err := r.ParseMultipartForm(st.cfg.maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart form or file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		badRequest(w, "Only image uploads are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		badRequest(w, "Could not read uploaded file")
		return
	}

	mediaID := uuid.NewString()
	ext := fileExtension(header.Filename)

	// The original goes to durable storage before anything else; the
	// pipeline re-fetches it by URL rather than carrying bytes through
	// the queue.
	originalURL, err := st.objects.Put(ctx, st.objects.KeyFor(mediaID, variantOriginal, ext), data, mimeType)
	if err != nil {
		logger.Error("original upload failed", "media_id", mediaID, "error", err)
		internalError(w, "failed to store original")
		return
	}

	rec := mediacatalog.NewPlaceholder(mediaID, originalURL, mediacatalog.SourceLocal, time.Now().Unix())
	if err := st.store.InsertMedia(&rec); err != nil {
		logger.Error("placeholder insert failed", "media_id", mediaID, "error", err)
		internalError(w, "failed to create media record")
		return
	}

	taskID := uuid.NewString()
	payload := resizeTaskPayload{
		TaskID:      taskID,
		MediaID:     mediaID,
		OriginalURL: originalURL,
		Filename:    header.Filename,
		MimeType:    mimeType,
	}
	b, _ := json.Marshal(payload)
	_, err = st.asynqCli.Enqueue(asynq.NewTask(taskTypeResize, b),
		asynq.Queue(st.cfg.queueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(resizeMaxRetry),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		logger.Error("failed to enqueue resize task",
			"task_type", taskTypeResize,
			"task_id", taskID,
			"media_id", mediaID,
			"error", err,
		)
		internalError(w, "failed to queue processing")
		return
	}

	setTaskState(ctx, st.redis, taskID, "PENDING", map[string]any{"status": "Queued", "media_id": mediaID})
	st.redis.RPush(ctx, ingestTaskListKey, taskID)
	st.redis.LTrim(ctx, ingestTaskListKey, -maxTrackedTasks, -1)
	metricIngests.Inc()

	logger.Info("media ingested", "media_id", mediaID, "task_id", taskID, "filename", header.Filename)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"media":      rec,
		"processing": true,
		"task_id":    taskID,
		"message":    "Upload received. Processing in background...",
	})
}

func (st *appState) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	requested := strings.TrimSpace(r.URL.Query().Get("ids"))
	var taskIDs []string
	if requested != "" {
		taskIDs = splitCSV(requested)
	} else {
		ids, err := st.redis.LRange(ctx, ingestTaskListKey, -30, -1).Result()
		if err == nil {
			taskIDs = ids
		}
	}

	items := make(map[string]queueTaskStatus, len(taskIDs))
	for _, id := range taskIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if rec, ok := getTaskState(ctx, st.redis, id); ok {
			items[id] = rec
		}
	}

	queueDepth := 0
	if q, err := st.inspector.GetQueueInfo(st.cfg.queueName); err == nil {
		queueDepth = q.Pending + q.Active + q.Scheduled + q.Retry
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"tasks":       items,
		"queue_depth": queueDepth,
	})
}
