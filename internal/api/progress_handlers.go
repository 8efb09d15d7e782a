package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/store"
	"github.com/partlab/partscope/internal/tracker"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	repoTimeout     = 3 * time.Second
	// sseQueueSize bounds per-client pending snapshots. Snapshots are
	// self-contained, so dropping intermediate ones only skips frames.
	sseQueueSize = 16
	sseHeartbeat = 25 * time.Second
)

// ListAnalyses handles GET /v1/analyses?status=&limit=&offset= from the
// snapshot store. Returns {"analyses": [...]}.
func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *tracker.OverallStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseOverallStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()

	records, err := s.repo.ListJobs(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list analyses failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	dtos := make([]progressDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, s.toProgressDTO(rec.JobID, rec.Snapshot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": dtos})
}

// GetProgress handles GET /v1/analyses/{job_id}/progress. Live sessions win;
// finished jobs fall back to the snapshot store.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if sess, ok := s.manager.Get(jobID); ok {
		writeJSON(w, http.StatusOK, s.toProgressDTO(jobID, sess.Snapshot()))
		return
	}
	if s.repo == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()

	rec, err := s.repo.GetSnapshot(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.logger.Error("get progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	writeJSON(w, http.StatusOK, s.toProgressDTO(jobID, rec.Snapshot))
}

// StreamEvents handles GET /v1/analyses/{job_id}/events as server-sent
// events. The current snapshot is sent immediately, then one event per
// accepted transition until the session turns terminal or the client leaves.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	sess, ok := s.manager.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates := make(chan tracker.Snapshot, sseQueueSize)
	unsubscribe := sess.OnUpdate(func(_ string, snap tracker.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsubscribe()

	if err := s.writeSSE(w, flusher, jobID, sess.Snapshot()); err != nil {
		return
	}
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := s.writeSSE(w, flusher, jobID, snap); err != nil {
				return
			}
			if snap.Terminal() {
				return
			}
		case <-sess.Done():
			// Flush whatever is still queued, then the terminal snapshot.
			for {
				select {
				case snap := <-updates:
					if err := s.writeSSE(w, flusher, jobID, snap); err != nil {
						return
					}
				default:
					_ = s.writeSSE(w, flusher, jobID, sess.Snapshot())
					return
				}
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, jobID string, snap tracker.Snapshot) error {
	payload, err := json.Marshal(s.toProgressDTO(jobID, snap))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseOverallStatus(input string) (tracker.OverallStatus, error) {
	switch strings.ToLower(input) {
	case "idle":
		return tracker.OverallIdle, nil
	case "analyzing", "running":
		return tracker.OverallAnalyzing, nil
	case "completed", "success":
		return tracker.OverallCompleted, nil
	case "error", "failed", "failure":
		return tracker.OverallError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func (s *Server) toProgressDTO(jobID string, snap tracker.Snapshot) progressDTO {
	dto := progressDTO{
		JobID:          jobID,
		OverallStatus:  string(snap.OverallStatus),
		OverallPercent: snap.OverallPercent,
		Error:          snap.ErrorMessage,
		Stages:         make([]stageDTO, 0, len(snap.Stages)),
	}
	for _, st := range snap.Stages {
		dto.Stages = append(dto.Stages, stageDTO{
			ID:          string(st.ID),
			Name:        s.displayName(st.ID),
			Status:      string(st.Status),
			Message:     st.Message,
			LastUpdated: st.LastUpdated,
		})
	}
	return dto
}

func (s *Server) displayName(id pipeline.StageID) string {
	if def, ok := s.catalog.Lookup(id); ok {
		return def.DisplayName
	}
	return string(id)
}

type progressDTO struct {
	JobID          string     `json:"job_id"`
	OverallStatus  string     `json:"overall_status"`
	OverallPercent float64    `json:"overall_percent"`
	Error          string     `json:"error,omitempty"`
	Stages         []stageDTO `json:"stages"`
}

type stageDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	LastUpdated int64  `json:"last_updated,omitempty"`
}
