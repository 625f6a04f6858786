package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/ocppcore/api/bearer"
	"github.com/kilianp07/ocppcore/infra/eventlog"
)

// NewHandler returns an HTTP handler exposing stored protocol events via
// GET /api/events. Requests must include "Authorization: Bearer <token>"
// when token is non-empty.
//
// Supported filters: peer, action, direction, kind, start and end (RFC3339)
// and limit.
func NewHandler(store eventlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !bearer.Require(w, r, token) {
			return
		}
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []eventlog.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func parseQuery(r *http.Request) (eventlog.Query, error) {
	v := r.URL.Query()
	q := eventlog.Query{
		Peer:      v.Get("peer"),
		Action:    v.Get("action"),
		Direction: v.Get("direction"),
		Kind:      v.Get("kind"),
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Start, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("invalid start: %w", err)
		}
	}
	if s := v.Get("end"); s != "" {
		if q.End, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("invalid end: %w", err)
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
	}
	return q, nil
}
