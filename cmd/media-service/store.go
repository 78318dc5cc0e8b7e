package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"media-manager/pkg/mediacatalog"
)

type store struct {
	db *sql.DB
	mu sync.Mutex
}

func openStore(path string) (*store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o664)
	if err != nil {
		return nil, fmt.Errorf("failed to open db file %s for read/write: %w", path, err)
	}
	_ = f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open failed for %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if _, err := db.Exec(`PRAGMA journal_mode=DELETE;`); err != nil {
		return nil, fmt.Errorf("set journal mode failed for %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		return nil, fmt.Errorf("set busy timeout failed for %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS media (
			id TEXT PRIMARY KEY,
			original_url TEXT NOT NULL,
			medium_url TEXT NOT NULL DEFAULT '',
			thumbnail_url TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			alt_text TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_media_created_at ON media(created_at);`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_media_source ON media(source);`); err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

func isRetryableSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "unable to open database file")
}

func withSQLiteRetry(op func() error) error {
	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < 4; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isRetryableSQLiteError(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func (s *store) Close() error {
	return s.db.Close()
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func decodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}

const mediaColumns = `id, original_url, medium_url, thumbnail_url, source, tags, title, description, alt_text, created_at`

func scanMedia(row interface{ Scan(...any) error }) (*mediacatalog.MediaRecord, error) {
	var rec mediacatalog.MediaRecord
	var source, tags string
	if err := row.Scan(&rec.ID, &rec.OriginalURL, &rec.MediumURL, &rec.ThumbnailURL,
		&source, &tags, &rec.Title, &rec.Description, &rec.AltText, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Source = mediacatalog.Source(source)
	rec.Tags = decodeTags(tags)
	return &rec, nil
}

func (s *store) InsertMedia(rec *mediacatalog.MediaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO media (`+mediaColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.OriginalURL, rec.MediumURL, rec.ThumbnailURL,
			string(rec.Source), encodeTags(rec.Tags), rec.Title, rec.Description, rec.AltText, rec.CreatedAt)
		return err
	})
}

func (s *store) GetMedia(id string) (*mediacatalog.MediaRecord, error) {
	var rec *mediacatalog.MediaRecord
	err := withSQLiteRetry(func() error {
		row := s.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
		r, err := scanMedia(row)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s not found: %w", id, err)
	}
	return rec, err
}

// UpdateVariantURLs is the stage-1 write: only the derived URLs change, the
// sentinel metadata stays until enrichment completes.
func (s *store) UpdateVariantURLs(id, mediumURL, thumbnailURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`UPDATE media SET medium_url = ?, thumbnail_url = ? WHERE id = ?`,
			mediumURL, thumbnailURL, id)
		return err
	})
}

// UpdateEnrichment is the stage-2 write: all four descriptive fields are
// overwritten together so a repeated attempt cannot leave a mix of sentinel
// and real values.
func (s *store) UpdateEnrichment(id string, a aiAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`UPDATE media SET tags = ?, title = ?, description = ?, alt_text = ? WHERE id = ?`,
			encodeTags(a.Tags), a.Title, a.Description, a.AltText, id)
		return err
	})
}

func (s *store) UpdateMetadata(id string, upd mediaMetadataUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, encodeTags(*upd.Tags))
	}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.AltText != nil {
		sets = append(sets, "alt_text = ?")
		args = append(args, *upd.AltText)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`UPDATE media SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return err
	})
}

// UpdateAllURLs rewrites every blob URL; used when a replacement image is
// uploaded through the edit endpoint.
func (s *store) UpdateAllURLs(id, originalURL, mediumURL, thumbnailURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`UPDATE media SET original_url = ?, medium_url = ?, thumbnail_url = ? WHERE id = ?`,
			originalURL, mediumURL, thumbnailURL, id)
		return err
	})
}

func (s *store) DeleteMedia(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLiteRetry(func() error {
		_, err := s.db.Exec(`DELETE FROM media WHERE id = ?`, id)
		return err
	})
}

// SearchMedia filters by source in SQL and applies text and tag matching
// in-app over the decoded tag column. Returns the requested page and the
// total number of matches.
func (s *store) SearchMedia(q searchQuery) ([]mediacatalog.MediaRecord, int, error) {
	query := `SELECT ` + mediaColumns + ` FROM media`
	args := make([]any, 0, 1)
	if q.Source != "" && q.Source != "all" {
		query += ` WHERE source = ?`
		args = append(args, q.Source)
	}
	query += ` ORDER BY created_at DESC, id`

	all := make([]mediacatalog.MediaRecord, 0)
	err := withSQLiteRetry(func() error {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		all = all[:0]
		for rows.Next() {
			rec, err := scanMedia(rows)
			if err != nil {
				return err
			}
			all = append(all, *rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	matched := make([]mediacatalog.MediaRecord, 0, len(all))
	for _, rec := range all {
		if q.Text != "" && !matchesText(&rec, q.Text) {
			continue
		}
		if len(q.Tags) > 0 && !matchesAllTags(&rec, q.Tags) {
			continue
		}
		matched = append(matched, rec)
	}

	total := len(matched)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	return matched[offset:end], total, nil
}

func matchesText(rec *mediacatalog.MediaRecord, text string) bool {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return true
	}
	for _, hay := range []string{rec.Title, rec.Description, rec.AltText} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// matchesAllTags requires every filter tag to match some record tag
// (case-insensitive substring).
func matchesAllTags(rec *mediacatalog.MediaRecord, filters []string) bool {
	for _, filter := range filters {
		f := strings.ToLower(strings.TrimSpace(filter))
		if f == "" {
			continue
		}
		found := false
		for _, tag := range rec.Tags {
			if strings.Contains(strings.ToLower(tag), f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AllTags returns the distinct tags across the catalog, sorted, with the
// processing sentinel excluded.
func (s *store) AllTags() ([]string, error) {
	seen := make(map[string]struct{})
	err := withSQLiteRetry(func() error {
		rows, err := s.db.Query(`SELECT tags FROM media`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			for _, tag := range decodeTags(raw) {
				tag = strings.TrimSpace(tag)
				if tag == "" || tag == mediacatalog.SentinelTag {
					continue
				}
				seen[tag] = struct{}{}
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}
