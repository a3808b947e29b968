package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"active":  len(s.runs.Active()),
	})
}

// handleStatus returns the currently running syncs
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.runs.Active(),
	})
}

// handleHistory returns finished runs, most recent last
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history": s.runs.History(),
	})
}

// handleStats returns per-entity warehouse row counts
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	s.runnerMu.RLock()
	entities := s.entities
	s.runnerMu.RUnlock()

	counts := make(map[string]int64)
	for _, d := range entities.All() {
		n, err := s.db.CountRows(r.Context(), d)
		if err != nil {
			s.logger.Printf("stats: %v", err)
			continue
		}
		counts[d.Name] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": counts})
}

// handleTrigger starts a sync: POST /api/sync/<entity> or /api/sync/all.
// The run happens in the background; the response carries the run id.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/sync/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "missing entity name", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, fmt.Sprintf("bad limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	s.runnerMu.RLock()
	runner := s.runner
	entities := s.entities
	s.runnerMu.RUnlock()

	if name != "all" {
		if _, err := entities.Get(name); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	runID, err := s.runs.Begin(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.broadcastData(MessageTypeSyncStarted, SyncStartedData{Entity: name, RunID: runID})
	s.wg.Add(1)
	go s.executeRun(runner, name, limit)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"entity": name,
	})
}

// executeRun drives a triggered sync to completion, feeding the run
// registry and the broadcast stream.
func (s *Server) executeRun(runner SyncRunner, name string, limit int) {
	defer s.wg.Done()

	progress := func(p engine.Progress) {
		s.runs.Progress(p)
		s.broadcastData(MessageTypeBatchProgress, p)
	}

	if name == "all" {
		summaries, err := runner.RunAll(s.ctx, limit, progress)
		total := SyncCompleteData{Entity: name}
		agg := &engine.RunSummary{Entity: name}
		for _, summary := range summaries {
			total.Processed += summary.Processed
			total.Skipped += summary.Skipped
			total.SuccessfulBatches += summary.SuccessfulBatches
			total.FailedBatches += len(summary.FailedBatches)
			total.DurationMS += summary.Duration.Milliseconds()
			agg.Processed += summary.Processed
			agg.Skipped += summary.Skipped
			agg.FailedBatches = append(agg.FailedBatches, summary.FailedBatches...)
		}
		if err != nil {
			s.runs.Fail(name, err.Error())
			s.broadcastData(MessageTypeSyncFailed, SyncFailedData{Entity: name, Error: err.Error()})
			return
		}
		s.runs.Complete(name, agg)
		s.broadcastData(MessageTypeSyncComplete, total)
		return
	}

	summary, err := runner.RunSync(s.ctx, name, limit, progress)
	if err != nil {
		s.runs.Fail(name, err.Error())
		s.broadcastData(MessageTypeSyncFailed, SyncFailedData{Entity: name, Error: err.Error()})
		return
	}

	s.runs.Complete(name, summary)
	s.broadcastData(MessageTypeSyncComplete, SyncCompleteData{
		Entity:            summary.Entity,
		Processed:         summary.Processed,
		Skipped:           summary.Skipped,
		SuccessfulBatches: summary.SuccessfulBatches,
		FailedBatches:     len(summary.FailedBatches),
		DurationMS:        summary.Duration.Milliseconds(),
	})
}

// broadcastData marshals a payload and broadcasts it under the given type.
func (s *Server) broadcastData(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Warehouse Sync Dashboard</title>
</head>
<body>
    <h1>Warehouse Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Trigger a sync: <code>POST /api/sync/&lt;entity&gt;</code> (or <code>all</code>)</p>
    <p>Status: <a href="/api/status">/api/status</a> &middot;
       History: <a href="/api/history">/api/history</a> &middot;
       Stats: <a href="/api/stats">/api/stats</a> &middot;
       Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
