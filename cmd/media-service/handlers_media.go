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

// handleMediaSubroutes dispatches /api/media/{id}[/status|/edit|/enrich].
func (st *appState) handleMediaSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/media/"), "/")
	segs := strings.Split(rest, "/")
	if len(segs) == 0 || segs[0] == "" {
		notFound(w, "Media not found")
		return
	}
	id := segs[0]

	switch {
	case len(segs) == 1:
		switch r.Method {
		case http.MethodGet:
			st.handleMediaGet(w, r, id)
		case http.MethodPut:
			st.handleMediaUpdate(w, r, id)
		case http.MethodDelete:
			st.handleMediaDelete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(segs) == 2 && segs[1] == "status" && r.Method == http.MethodGet:
		st.handleMediaStatus(w, r, id)
	case len(segs) == 2 && segs[1] == "edit" && r.Method == http.MethodPut:
		st.handleMediaEdit(w, r, id)
	case len(segs) == 2 && segs[1] == "enrich" && r.Method == http.MethodPost:
		st.handleMediaReenrich(w, r, id)
	default:
		notFound(w, "Unknown media route")
	}
}

func (st *appState) handleMediaGet(w http.ResponseWriter, _ *http.Request, id string) {
	rec, err := st.store.GetMedia(id)
	if err != nil {
		notFound(w, "Media not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "media": rec})
}

// handleMediaStatus serves the poller: the processing flag is the derived
// sentinel predicate, recomputed from the current record on every lookup.
func (st *appState) handleMediaStatus(w http.ResponseWriter, _ *http.Request, id string) {
	rec, err := st.store.GetMedia(id)
	if err != nil {
		notFound(w, "Media not found")
		return
	}
	writeJSON(w, http.StatusOK, mediacatalog.StatusResponse{
		Success:    true,
		Media:      *rec,
		Processing: mediacatalog.IsProcessing(rec),
	})
}

func (st *appState) handleMediaUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var upd mediaMetadataUpdate
	if !decodeJSONOrBadRequest(w, r, &upd, "invalid update body") {
		return
	}
	if upd.empty() {
		badRequest(w, "No valid fields provided for update")
		return
	}
	if _, err := st.store.GetMedia(id); err != nil {
		notFound(w, "Media not found")
		return
	}
	if err := st.store.UpdateMetadata(id, upd); err != nil {
		logger.Error("metadata update failed", "media_id", id, "error", err)
		internalError(w, "failed to update media")
		return
	}
	rec, err := st.store.GetMedia(id)
	if err != nil {
		internalError(w, "failed to load updated media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "media": rec})
}

// handleMediaDelete removes the record and all associated blobs. Blob
// deletion is best effort: a storage error is logged and never blocks the
// record delete.
func (st *appState) handleMediaDelete(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	rec, err := st.store.GetMedia(id)
	if err != nil {
		notFound(w, "Media not found")
		return
	}

	for _, rawURL := range []string{rec.OriginalURL, rec.MediumURL, rec.ThumbnailURL} {
		if rawURL == "" {
			continue
		}
		key := keyFromURL(rawURL)
		if key == "" {
			continue
		}
		if err := st.objects.Delete(ctx, key); err != nil {
			logger.Warn("blob delete failed, continuing", "media_id", id, "key", key, "error", err)
		}
	}

	if err := st.store.DeleteMedia(id); err != nil {
		logger.Error("record delete failed", "media_id", id, "error", err)
		internalError(w, "failed to delete media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Media deleted successfully"})
}

// handleMediaEdit accepts multipart metadata plus an optional replacement
// image. A replacement is transcoded synchronously and all three blobs are
// overwritten under their deterministic keys.
func (st *appState) handleMediaEdit(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	if _, err := st.store.GetMedia(id); err != nil {
		notFound(w, "Media not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, st.cfg.maxUploadBytes)
	if err := r.ParseMultipartForm(st.cfg.maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart form or file too large")
		return
	}

	upd := mediaMetadataUpdate{}
	if v, ok := formValue(r, "title"); ok {
		upd.Title = &v
	}
	if v, ok := formValue(r, "description"); ok {
		upd.Description = &v
	}
	if v, ok := formValue(r, "altText"); ok {
		upd.AltText = &v
	}
	if v, ok := formValue(r, "tags"); ok {
		var tags []string
		if err := json.Unmarshal([]byte(v), &tags); err != nil {
			badRequest(w, "tags must be a JSON string array")
			return
		}
		upd.Tags = &tags
	}

	file, header, err := r.FormFile("editedImage")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || len(data) == 0 {
			badRequest(w, "Could not read replacement image")
			return
		}
		mimeType := header.Header.Get("Content-Type")
		if !strings.HasPrefix(mimeType, "image/") {
			badRequest(w, "Replacement must be an image")
			return
		}
		ext := fileExtension(header.Filename)

		medium, thumbnail, err := generateVariants(data, formatForFilename(header.Filename))
		if err != nil {
			badRequest(w, "Could not process replacement image")
			return
		}

		originalURL, err := st.objects.Put(ctx, st.objects.KeyFor(id, variantOriginal, ext), data, mimeType)
		if err != nil {
			logger.Error("replacement original upload failed", "media_id", id, "error", err)
			internalError(w, "failed to store replacement image")
			return
		}
		mediumURL, err := st.objects.Put(ctx, st.objects.KeyFor(id, variantMedium, ext), medium, mimeType)
		if err != nil {
			logger.Error("replacement medium upload failed", "media_id", id, "error", err)
			internalError(w, "failed to store replacement image")
			return
		}
		thumbnailURL, err := st.objects.Put(ctx, st.objects.KeyFor(id, variantThumbnail, ext), thumbnail, mimeType)
		if err != nil {
			logger.Error("replacement thumbnail upload failed", "media_id", id, "error", err)
			internalError(w, "failed to store replacement image")
			return
		}

		if err := st.store.UpdateAllURLs(id, originalURL, mediumURL, thumbnailURL); err != nil {
			logger.Error("url update failed", "media_id", id, "error", err)
			internalError(w, "failed to update media")
			return
		}
	}

	if !upd.empty() {
		if err := st.store.UpdateMetadata(id, upd); err != nil {
			logger.Error("metadata update failed", "media_id", id, "error", err)
			internalError(w, "failed to update media")
			return
		}
	}

	rec, err := st.store.GetMedia(id)
	if err != nil {
		internalError(w, "failed to load updated media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "media": rec})
}

func formValue(r *http.Request, key string) (string, bool) {
	vals, ok := r.MultipartForm.Value[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (st *appState) handleMediaReenrich(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	if _, err := st.store.GetMedia(id); err != nil {
		notFound(w, "Media not found")
		return
	}
	if st.isTrackedTaskBusy(ctx, reenrichLastKey+id) {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "Re-enrichment already in progress"})
		return
	}

	taskID := uuid.NewString()
	payload := reenrichTaskPayload{TaskID: taskID, MediaID: id}
	b, _ := json.Marshal(payload)
	_, err := st.asynqCli.Enqueue(asynq.NewTask(taskTypeReenrich, b),
		asynq.Queue(st.cfg.queueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		logger.Error("failed to enqueue re-enrich task", "task_id", taskID, "media_id", id, "error", err)
		internalError(w, "failed to queue task")
		return
	}

	setTaskState(ctx, st.redis, taskID, "PENDING", map[string]any{"status": "Queued", "media_id": id})
	st.redis.Set(ctx, reenrichLastKey+id, taskID, 24*time.Hour)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task_id": taskID})
}
