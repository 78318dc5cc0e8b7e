package main

import (
	"net/http"
	"strings"
)

// handleMediaList serves GET /api/media with search/source/page/limit.
func (st *appState) handleMediaList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 20)

	q := searchQuery{
		Text:   strings.TrimSpace(r.URL.Query().Get("search")),
		Source: strings.TrimSpace(r.URL.Query().Get("source")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	results, total, err := st.store.SearchMedia(q)
	if err != nil {
		logger.Error("media list failed", "error", err)
		internalError(w, "failed to list media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"media":   results,
		"total":   total,
		"pagination": map[string]any{
			"page":    page,
			"limit":   limit,
			"hasMore": q.Offset+limit < total,
		},
	})
}

func (st *appState) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 20)
	offset := parseNonNegativeInt(r.URL.Query().Get("offset"), 0)
	filterTags := splitCSV(r.URL.Query().Get("tags"))
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	source := strings.TrimSpace(r.URL.Query().Get("source"))

	q := searchQuery{
		Text:   query,
		Tags:   filterTags,
		Source: source,
		Limit:  limit,
		Offset: offset,
	}
	results, total, err := st.store.SearchMedia(q)
	if err != nil {
		logger.Error("search failed", "error", err)
		internalError(w, "search failed")
		return
	}
	if source == "" {
		source = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   query,
		"tags":    filterTags,
		"source":  source,
		"results": results,
		"total":   total,
		"pagination": map[string]any{
			"limit":   limit,
			"offset":  offset,
			"hasMore": offset+limit < total,
		},
	})
}

func (st *appState) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tags, err := st.store.AllTags()
	if err != nil {
		logger.Error("tags fetch failed", "error", err)
		internalError(w, "failed to fetch tags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tags":    tags,
		"total":   len(tags),
	})
}
