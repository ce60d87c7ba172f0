package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/speakline/internal/transcript"
)

// maxListLimit caps the limit query parameter of GET /v1/transcripts.
const maxListLimit = 1000

// Transcripts lists stored transcripts oldest first. Query parameters:
// stream (stream ID), q (words that must all appear), since (RFC 3339) and
// limit (newest N, default and maximum 1000).
func (s *Server) Transcripts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transcripts == nil {
		http.Error(w, "ingest: no transcript store configured", http.StatusServiceUnavailable)
		return
	}

	params := r.URL.Query()
	q := transcript.Query{
		StreamID: params.Get("stream"),
		Text:     strings.TrimSpace(params.Get("q")),
		Limit:    maxListLimit,
	}
	if v := params.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "ingest: since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		q.Since = since
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "ingest: limit must be a positive integer", http.StatusBadRequest)
			return
		}
		q.Limit = min(n, maxListLimit)
	}

	recs, err := s.cfg.Transcripts.List(r.Context(), q)
	if err != nil {
		slog.Error("ingest: list transcripts", "err", err)
		http.Error(w, "ingest: listing transcripts failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []transcript.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Streams lists the live streams ordered by start time.
func (s *Server) Streams(w http.ResponseWriter, _ *http.Request) {
	active := s.Active()
	slices.SortFunc(active, func(a, b StreamInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	writeJSON(w, http.StatusOK, active)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("ingest: encode response", "err", err)
	}
}
