package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"media-manager/pkg/mediacatalog"
)

func multipartUpload(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHandleUploadCreatesPlaceholderAndQueuesResize(t *testing.T) {
	ts := newTestState(t)
	body, contentType := multipartUpload(t, "file", "cat.jpg", "image/jpeg", makeJPEG(t, 640, 480))

	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	ts.handleUpload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success    bool                     `json:"success"`
		Media      mediacatalog.MediaRecord `json:"media"`
		Processing bool                     `json:"processing"`
		TaskID     string                   `json:"task_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || !resp.Processing {
		t.Errorf("response = %+v, want success and processing", resp)
	}
	if !mediacatalog.IsProcessing(&resp.Media) {
		t.Error("returned record should be a processing placeholder")
	}

	// The original blob must be durable before the response.
	if _, ok := ts.objects.blob("original/" + resp.Media.ID + ".jpg"); !ok {
		t.Error("original blob not stored")
	}

	stored, err := ts.store.GetMedia(resp.Media.ID)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if !stored.HasTag(mediacatalog.SentinelTag) || stored.Title != mediacatalog.SentinelTitle {
		t.Errorf("stored record missing sentinels: %+v", stored)
	}

	tasks := ts.asynq.enqueued()
	if len(tasks) != 1 || tasks[0].task.Type() != taskTypeResize {
		t.Fatalf("tasks = %v, want one resize task", tasks)
	}
	if got := maxRetryOf(t, tasks[0].opts); got != resizeMaxRetry {
		t.Errorf("resize MaxRetry = %d, want %d (single shot)", got, resizeMaxRetry)
	}
}

func TestHandleUploadRejectsNonImage(t *testing.T) {
	ts := newTestState(t)
	body, contentType := multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	ts.handleUpload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(ts.asynq.enqueued()) != 0 {
		t.Error("task enqueued for rejected upload")
	}
}

func TestHandleUploadRequiresFile(t *testing.T) {
	ts := newTestState(t)
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.handleUpload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleMediaStatusReflectsPipeline(t *testing.T) {
	ts := newTestState(t)
	rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
	if err := ts.store.InsertMedia(&rec); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}

	status := func() mediacatalog.StatusResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/media/m1/status", nil)
		rr := httptest.NewRecorder()
		ts.handleMediaSubroutes(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp mediacatalog.StatusResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	if got := status(); !got.Processing {
		t.Error("placeholder should report processing")
	}

	a := aiAnalysis{Tags: []string{"cat"}, Title: "A cat", Description: "A cat.", AltText: "A cat"}
	if err := ts.store.UpdateEnrichment("m1", a); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}
	if got := status(); got.Processing {
		t.Error("enriched record should not report processing")
	}
}

func TestHandleMediaStatusUnknownID(t *testing.T) {
	ts := newTestState(t)
	req := httptest.NewRequest(http.MethodGet, "/api/media/nope/status", nil)
	rr := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleMediaUpdateRejectsEmptyBody(t *testing.T) {
	ts := newTestState(t)
	rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
	if err := ts.store.InsertMedia(&rec); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/media/m1", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for no-op update", rr.Code)
	}
}

func TestHandleMediaUpdatePartial(t *testing.T) {
	ts := newTestState(t)
	rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
	if err := ts.store.InsertMedia(&rec); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/media/m1", strings.NewReader(`{"description": "hand written"}`))
	rr := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	got, _ := ts.store.GetMedia("m1")
	if got.Description != "hand written" {
		t.Errorf("description = %q", got.Description)
	}
	if got.Title != mediacatalog.SentinelTitle {
		t.Errorf("title changed by partial update: %q", got.Title)
	}
}

func TestHandleMediaDeleteSwallowsBlobErrors(t *testing.T) {
	ts := newTestState(t)
	rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
	rec.MediumURL = "http://blobs.test/media/medium/m1.jpg"
	rec.ThumbnailURL = "http://blobs.test/media/thumbnail/m1.jpg"
	if err := ts.store.InsertMedia(&rec); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}
	ts.objects.delErr = context.DeadlineExceeded

	req := httptest.NewRequest(http.MethodDelete, "/api/media/m1", nil)
	rr := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, blob errors must not block record delete", rr.Code)
	}
	if _, err := ts.store.GetMedia("m1"); err == nil {
		t.Error("record still present after delete")
	}
	if len(ts.objects.deleted) != 3 {
		t.Errorf("delete attempted on %d blobs, want 3", len(ts.objects.deleted))
	}
}

func TestHandleMediaReenrichQueuesSingleShotTask(t *testing.T) {
	ts := newTestState(t)
	rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
	if err := ts.store.InsertMedia(&rec); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/media/m1/enrich", nil)
	rr := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	tasks := ts.asynq.enqueued()
	if len(tasks) != 1 || tasks[0].task.Type() != taskTypeReenrich {
		t.Fatalf("tasks = %v, want one re-enrich task", tasks)
	}
	if got := maxRetryOf(t, tasks[0].opts); got != 0 {
		t.Errorf("re-enrich MaxRetry = %d, want 0", got)
	}

	// A second request while the first task is still pending is refused.
	rr2 := httptest.NewRecorder()
	ts.handleMediaSubroutes(rr2, httptest.NewRequest(http.MethodPost, "/api/media/m1/enrich", nil))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("second request status = %d, want 409", rr2.Code)
	}
	if len(ts.asynq.enqueued()) != 1 {
		t.Error("duplicate re-enrich task enqueued")
	}
}

func TestHandleTaskStatusListsTrackedTasks(t *testing.T) {
	ts := newTestState(t)
	ctx := context.Background()
	setTaskState(ctx, ts.redis, "t1", "SUCCESS", map[string]any{"media_id": "m1"})
	ts.redis.RPush(ctx, ingestTaskListKey, "t1")

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/status", nil)
	rr := httptest.NewRecorder()
	ts.handleTaskStatus(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Success bool                       `json:"success"`
		Tasks   map[string]queueTaskStatus `json:"tasks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := resp.Tasks["t1"]; !ok || got.Status != "SUCCESS" {
		t.Errorf("tasks = %+v, want t1 SUCCESS", resp.Tasks)
	}
}
