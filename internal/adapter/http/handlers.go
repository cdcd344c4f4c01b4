package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
	"github.com/gladhopper/fd/internal/port"
	"github.com/gladhopper/fd/internal/service"
)

// FrameReader provides the latest published frame.
type FrameReader interface {
	Latest() *domain.Frame
	Snapshot() service.StatsSnapshot
}

// StatusReader provides the clock and health snapshots.
type StatusReader interface {
	SyncInfo() service.SyncInfo
	Health() service.Health
}

// HistoryReader provides recent journal rows. May be nil when journaling is
// disabled.
type HistoryReader interface {
	Recent(limit int) ([]port.Attempt, error)
}

type Handlers struct {
	frames  FrameReader
	status  StatusReader
	history HistoryReader
}

func NewHandlers(frames FrameReader, status StatusReader, history HistoryReader) *Handlers {
	return &Handlers{frames: frames, status: status, history: history}
}

// Frame serves the latest frame as raw rgb24 bytes with metadata in headers.
// 503 until the first frame lands.
func (h *Handlers) Frame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame := h.frames.Latest()
		if frame == nil {
			http.Error(w, "no frame available yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Frame-Index", strconv.Itoa(frame.Index))
		w.Header().Set("X-Frame-Width", strconv.Itoa(frame.Width))
		w.Header().Set("X-Frame-Height", strconv.Itoa(frame.Height))
		w.Header().Set("X-Frame-Timestamp", frame.Timestamp.UTC().Format(time.RFC3339Nano))
		w.Header().Set("X-Frame-Degraded", strconv.FormatBool(frame.Degraded))
		w.Header().Set("Cache-Control", "no-store")
		if _, err := w.Write(frame.Pixels); err != nil {
			logger.Debug.Printf("frame write aborted: %v", err)
		}
	}
}

func (h *Handlers) Sync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.status.SyncInfo())
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.status.Health()
		if !health.Healthy {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(health)
			return
		}
		writeJSON(w, health)
	}
}

func (h *Handlers) Stats() http.HandlerFunc {
	type statsResponse struct {
		TotalFrames          int64   `json:"totalFramesProcessed"`
		TotalErrors          int64   `json:"totalErrors"`
		ConsecutiveErrors    int     `json:"consecutiveErrors"`
		ConsecutiveSuccesses int     `json:"consecutiveSuccesses"`
		AvgProcessingMs      float64 `json:"avgProcessingMs"`
		AvgWindow            int     `json:"avgWindow"`
		SuccessRate          float64 `json:"successRate"`
		LastSuccess          string  `json:"lastSuccess,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		snap := h.frames.Snapshot()
		resp := statsResponse{
			TotalFrames:          snap.TotalFrames,
			TotalErrors:          snap.TotalErrors,
			ConsecutiveErrors:    snap.ConsecutiveErrors,
			ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
			AvgProcessingMs:      float64(snap.MeanProcessing.Microseconds()) / 1000.0,
			AvgWindow:            snap.Window,
			SuccessRate:          snap.SuccessRate,
		}
		if !snap.LastSuccess.IsZero() {
			resp.LastSuccess = snap.LastSuccess.UTC().Format(time.RFC3339Nano)
		}
		writeJSON(w, resp)
	}
}

func (h *Handlers) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.history == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 1000 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		attempts, err := h.history.Recent(limit)
		if err != nil {
			logger.Error.Printf("history query failed: %v", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if attempts == nil {
			attempts = []port.Attempt{}
		}
		writeJSON(w, attempts)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("response encode aborted: %v", err)
	}
}
