package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func setTaskState(ctx context.Context, rdb RedisClient, taskID, status string, result interface{}) {
	rec := queueTaskStatus{Status: status, Result: result, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	b, _ := json.Marshal(rec)
	if err := rdb.Set(ctx, taskMetaPrefix+taskID, b, 7*24*time.Hour).Err(); err != nil {
		logger.Error("failed to persist task state", "task_id", taskID, "status", status, "error", err)
	}

	msg := ""
	if resultMap, ok := result.(map[string]any); ok {
		if s, ok := stringFromAny(resultMap["message"]); ok && s != "" {
			msg = s
		} else if s, ok := stringFromAny(resultMap["status"]); ok && s != "" {
			msg = s
		}
	}
	attrs := []any{"task_id", taskID, "status", status}
	if msg != "" {
		attrs = append(attrs, "message", msg)
	}
	switch status {
	case "FAILURE":
		logger.Error("task state updated", attrs...)
	case "PROGRESS":
		logger.Debug("task state updated", attrs...)
	default:
		logger.Info("task state updated", attrs...)
	}
}

func getTaskState(ctx context.Context, rdb RedisClient, taskID string) (queueTaskStatus, bool) {
	raw, err := rdb.Get(ctx, taskMetaPrefix+taskID).Result()
	if err != nil || raw == "" {
		return queueTaskStatus{}, false
	}
	var rec queueTaskStatus
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return queueTaskStatus{}, false
	}
	return rec, true
}

func stringFromAny(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": msg})
}

func internalError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": msg})
}

func decodeJSONOrBadRequest(w http.ResponseWriter, r *http.Request, dst any, msg string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, msg)
		return false
	}
	return true
}

func parsePositiveInt(raw string, fallback int) int {
	val := strings.TrimSpace(raw)
	if val == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseNonNegativeInt(raw string, fallback int) int {
	val := strings.TrimSpace(raw)
	if val == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v != "" {
			items = append(items, v)
		}
	}
	return items
}

func toMap(v interface{}) map[string]any {
	b, _ := json.Marshal(v)
	m := make(map[string]any)
	_ = json.Unmarshal(b, &m)
	return m
}

// keyFromURL recovers the "variant/file" object key from a public blob URL.
// Returns "" when the URL has fewer than two path segments.
func keyFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 {
		return ""
	}
	return segs[len(segs)-2] + "/" + segs[len(segs)-1]
}
