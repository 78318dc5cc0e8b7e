// Package mediacatalog defines the media record wire shape and the
// processing-state convention shared by the service and its clients.
// The pipeline marks an in-flight record with placeholder sentinel values
// instead of a status column; both the worker and any poller must derive
// "still processing" from the same fields, so the predicate lives here.
package mediacatalog

// Sentinel values written at ingest time and replaced by the pipeline.
const (
	SentinelTag         = "processing"
	SentinelTitle       = "Processing..."
	SentinelDescription = "Processing..."
	SentinelAltText     = "Image being processed"
)

// Source identifies where an upload came from.
type Source string

const (
	SourceLocal         Source = "local"
	SourceExternalDrive Source = "external-drive"
)

// MediaRecord is one row of the media catalog.
type MediaRecord struct {
	ID           string   `json:"id"`
	OriginalURL  string   `json:"originalUrl"`
	MediumURL    string   `json:"mediumUrl"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	Source       Source   `json:"source"`
	Tags         []string `json:"tags"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	AltText      string   `json:"altText"`
	CreatedAt    int64    `json:"createdAt"`
}

// StatusResponse is the status-lookup wire shape.
type StatusResponse struct {
	Success    bool        `json:"success"`
	Media      MediaRecord `json:"media"`
	Processing bool        `json:"processing"`
}

// NewPlaceholder returns the record inserted at ingest time, carrying the
// sentinel markers until the pipeline replaces them.
func NewPlaceholder(id, originalURL string, source Source, createdAt int64) MediaRecord {
	return MediaRecord{
		ID:          id,
		OriginalURL: originalURL,
		Source:      source,
		Tags:        []string{SentinelTag},
		Title:       SentinelTitle,
		Description: SentinelDescription,
		AltText:     SentinelAltText,
		CreatedAt:   createdAt,
	}
}

// HasTag reports whether the record carries the given tag.
func (r *MediaRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsProcessing is the derived processing predicate: a record is still in the
// pipeline while it has no original URL, carries the sentinel tag, or still
// holds the sentinel description. This predicate is the sole state
// indicator; there is no status column.
func IsProcessing(r *MediaRecord) bool {
	return r.OriginalURL == "" ||
		r.HasTag(SentinelTag) ||
		r.Description == SentinelDescription
}

// State is the typed view of where a record sits in the pipeline.
type State int

const (
	// StateIngested: placeholder fields set, variants not yet derived.
	StateIngested State = iota
	// StateResized: variant URLs populated, enrichment still pending.
	StateResized
	// StateComplete: enrichment (or its fallback) written; the record is
	// no longer processing. Real and fallback metadata are
	// indistinguishable here except by content.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIngested:
		return "ingested"
	case StateResized:
		return "resized"
	default:
		return "complete"
	}
}

// StateOf derives the typed pipeline state from a record's fields.
func StateOf(r *MediaRecord) State {
	if !IsProcessing(r) {
		return StateComplete
	}
	if r.MediumURL != "" && r.ThumbnailURL != "" {
		return StateResized
	}
	return StateIngested
}
