package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func asynqRetryInfo(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return 0, 0, false
	}
	return retried, maxRetry, true
}

func (st *appState) downloadOriginal(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := st.downloadHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", ErrDownload, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDownload)
	}
	return body, nil
}

// processResizeTask is stage 1: download the original, derive both variants,
// upload them, link them onto the record, then trigger stage 2. Enqueued
// with MaxRetry(0): any failure here leaves the record ingested and is
// surfaced to operators via the task state and the archive, never retried.
func (st *appState) processResizeTask(ctx context.Context, t *asynq.Task) error {
	var payload resizeTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	taskID := payload.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	setTaskState(ctx, st.redis, taskID, "PROGRESS", map[string]any{"status": "Downloading original...", "media_id": payload.MediaID})
	data, err := st.downloadOriginal(ctx, payload.OriginalURL)
	if err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	format := formatForFilename(payload.Filename)
	medium, thumbnail, err := generateVariants(data, format)
	if err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	ext := fileExtension(payload.Filename)
	mediumURL, err := st.objects.Put(ctx, st.objects.KeyFor(payload.MediaID, variantMedium, ext), medium, payload.MimeType)
	if err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}
	thumbnailURL, err := st.objects.Put(ctx, st.objects.KeyFor(payload.MediaID, variantThumbnail, ext), thumbnail, payload.MimeType)
	if err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	if err := st.store.UpdateVariantURLs(payload.MediaID, mediumURL, thumbnailURL); err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	// Stage 2 is triggered only after the catalog write above has
	// returned; the trigger chain is what serializes the stages for one
	// record.
	if err := st.enqueueEnrich(ctx, payload.MediaID, payload.OriginalURL); err != nil {
		metricStageRuns.WithLabelValues("resize", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	metricStageRuns.WithLabelValues("resize", "success").Inc()
	setTaskState(ctx, st.redis, taskID, "SUCCESS", toMap(resizeResult{
		MediaID:      payload.MediaID,
		MediumURL:    mediumURL,
		ThumbnailURL: thumbnailURL,
	}))
	return nil
}

func (st *appState) enqueueEnrich(ctx context.Context, mediaID, originalURL string) error {
	taskID := uuid.NewString()
	payload := enrichTaskPayload{TaskID: taskID, MediaID: mediaID, OriginalURL: originalURL}
	b, _ := json.Marshal(payload)
	_, err := st.asynqCli.Enqueue(asynq.NewTask(taskTypeEnrich, b),
		asynq.Queue(st.cfg.queueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(enrichMaxRetry),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue enrich task: %w", err)
	}
	setTaskState(ctx, st.redis, taskID, "PENDING", map[string]any{"status": "Queued", "media_id": mediaID})
	return nil
}

// processEnrichTask is stage 2: re-download the original, run the AI
// analysis, and overwrite the record's descriptive fields. Every attempt
// re-fetches its input and writes all fields at once, so duplicate delivery
// is harmless. While the runtime still has retries left, failures are
// returned; on the final attempt the fixed stage fallback is written instead
// and the task completes, so enrichment failure never surfaces to the user.
func (st *appState) processEnrichTask(ctx context.Context, t *asynq.Task) error {
	var payload enrichTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	taskID := payload.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	var analysis *aiAnalysis
	data, err := st.downloadOriginal(ctx, payload.OriginalURL)
	if err == nil {
		analysis, err = st.enrich.Analyze(ctx, data)
	}
	if err != nil {
		retried, maxRetry, ok := st.taskRetryInfo(ctx)
		if ok && retried < maxRetry {
			metricStageRuns.WithLabelValues("enrich", "retry").Inc()
			setTaskState(ctx, st.redis, taskID, "PROGRESS", map[string]any{
				"status":   "Enrichment failed, will retry",
				"media_id": payload.MediaID,
				"attempt":  retried + 1,
			})
			return err
		}
		logger.Warn("enrichment retries exhausted, writing fallback metadata",
			"media_id", payload.MediaID, "error", err)
		metricEnrichFallbacks.Inc()
		f := stageFallbackAnalysis
		analysis = &f
	}

	if err := st.store.UpdateEnrichment(payload.MediaID, *analysis); err != nil {
		metricStageRuns.WithLabelValues("enrich", "failure").Inc()
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	metricStageRuns.WithLabelValues("enrich", "success").Inc()
	setTaskState(ctx, st.redis, taskID, "SUCCESS", toMap(enrichResult{
		MediaID: payload.MediaID,
		Tags:    analysis.Tags,
		Title:   analysis.Title,
	}))
	return nil
}

// processReenrichTask re-runs enrichment for an existing record on demand.
// Single shot: the client-level fallback absorbs any failure, there is no
// runtime retry here.
func (st *appState) processReenrichTask(ctx context.Context, t *asynq.Task) error {
	var payload reenrichTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	taskID := payload.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	rec, err := st.store.GetMedia(payload.MediaID)
	if err != nil {
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	setTaskState(ctx, st.redis, taskID, "PROGRESS", map[string]any{"status": "Re-running enrichment...", "media_id": payload.MediaID})
	data, err := st.downloadOriginal(ctx, rec.OriginalURL)
	if err != nil {
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	analysis := st.enrich.AnalyzeOrFallback(ctx, data)
	if err := st.store.UpdateEnrichment(payload.MediaID, *analysis); err != nil {
		setTaskState(ctx, st.redis, taskID, "FAILURE", map[string]any{"message": err.Error(), "media_id": payload.MediaID})
		return err
	}

	setTaskState(ctx, st.redis, taskID, "SUCCESS", toMap(enrichResult{
		MediaID: payload.MediaID,
		Tags:    analysis.Tags,
	}))
	return nil
}
