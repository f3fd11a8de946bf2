package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dictate/internal/eventstore"
)

const maxHistoryLimit = 500

type historyReader interface {
	RecentCycles(ctx context.Context, limit int) ([]eventstore.Cycle, error)
	ListCycleEvents(ctx context.Context, traceID string, limit int) ([]eventstore.Event, error)
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit, ok := historyLimit(w, req)
	if !ok {
		return
	}
	cycles, err := r.history.RecentCycles(req.Context(), limit)
	if err != nil {
		r.logger.Error("history query failed", slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		cycles = []eventstore.Cycle{}
	}
	writeJSON(w, map[string]any{"cycles": cycles})
}

func (r *Runtime) handleCycleEvents(w http.ResponseWriter, req *http.Request) {
	limit, ok := historyLimit(w, req)
	if !ok {
		return
	}
	traceID := req.PathValue("trace_id")
	events, err := r.history.ListCycleEvents(req.Context(), traceID, limit)
	if err != nil {
		r.logger.Error("history query failed", slog.String("trace_id", traceID), slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "cycle not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"trace_id": traceID, "events": events})
}

// historyLimit reads ?limit=N. Zero or absent means the store default.
func historyLimit(w http.ResponseWriter, req *http.Request) (int, bool) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxHistoryLimit), true
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
