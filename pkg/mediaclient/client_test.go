package mediaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-manager/pkg/mediacatalog"
)

// ingestGateServer applies the same acceptance rules as the service's upload
// handler: a multipart "file" part whose Content-Type is prefixed image/*.
func ingestGateServer(t *testing.T, gotType *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		*gotType = header.Header.Get("Content-Type")
		if !strings.HasPrefix(*gotType, "image/") {
			http.Error(w, "only images", http.StatusBadRequest)
			return
		}
		rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
		resp := map[string]any{"success": true, "media": rec, "processing": true, "task_id": "t1"}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestUploadDeclaresImageContentType(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		data     []byte
		wantType string
	}{
		{"jpeg by extension", "cat.jpg", []byte("jpeg-bytes"), "image/jpeg"},
		{"png by extension", "diagram.png", []byte("png-bytes"), "image/png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotType string
			srv := ingestGateServer(t, &gotType)

			rec, err := New(srv.URL).Upload(context.Background(), tc.filename, bytes.NewReader(tc.data))
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if gotType != tc.wantType {
				t.Errorf("part Content-Type = %q, want %q", gotType, tc.wantType)
			}
			if rec.ID != "m1" {
				t.Errorf("record id = %q", rec.ID)
			}
		})
	}
}

func TestUploadSniffsUnknownExtension(t *testing.T) {
	var gotType string
	srv := ingestGateServer(t, &gotType)

	// No usable extension: the content type must come from the payload.
	if _, err := New(srv.URL).Upload(context.Background(), "blob", bytes.NewReader(pngBytes(t))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotType != "image/png" {
		t.Errorf("part Content-Type = %q, want sniffed image/png", gotType)
	}
}

func TestUploadSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "only images", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	if _, err := New(srv.URL).Upload(context.Background(), "notes.txt", strings.NewReader("hello")); err == nil {
		t.Fatal("expected error for rejected upload")
	}
}

func TestStatusRoundtrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/media/m1/status" {
			http.NotFound(w, r)
			return
		}
		rec := mediacatalog.NewPlaceholder("m1", "http://blobs.test/media/original/m1.jpg", mediacatalog.SourceLocal, 1700000000)
		json.NewEncoder(w).Encode(mediacatalog.StatusResponse{Success: true, Media: rec, Processing: true})
	}))
	t.Cleanup(srv.Close)

	st, err := New(srv.URL).Status(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Processing || st.Media.ID != "m1" {
		t.Errorf("status = %+v", st)
	}
}
