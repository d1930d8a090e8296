// Package vidserver exposes the video chat pipeline over REST and MCP.
package vidserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Answerer answers a question about a video. *rag.Pipeline implements it.
type Answerer interface {
	Answer(ctx context.Context, query, vidDetails string) (string, error)
}

// VideoChatRequest is the body of POST /videochat.
type VideoChatRequest struct {
	Query      string `json:"query"`
	VidDetails string `json:"vidDetails"`
	VideoID    string `json:"videoId,omitempty"` // alias sent by the browser extension
}

// VideoChatResponse is the success body of POST /videochat.
type VideoChatResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type ctxKey struct{}

// RequestID returns the id the logging middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewHandler returns the REST API: GET /, POST /videochat and GET /metrics,
// wrapped in permissive CORS and request logging.
func NewHandler(a Answerer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("POST /videochat", videoChatHandler(a))
	mux.HandleFunc("GET /metrics", handleMetrics)
	return withCORS(withRequestLog(mux))
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API is running"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, engine.FormatMetrics())
}

func videoChatHandler(a Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine.IncrVideoChatRequests()

		var req VideoChatRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			engine.IncrVideoChatErrors()
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: decodeMessage(err)})
			return
		}
		if req.VidDetails == "" {
			req.VidDetails = req.VideoID
		}

		log := slog.With(slog.String("request_id", RequestID(r.Context())))
		log.Info("videochat",
			slog.String("query", engine.TruncateAtWord(req.Query, 80)),
			slog.String("video", engine.TruncateRunes(req.VidDetails, 80, "...")))

		answer, err := a.Answer(r.Context(), req.Query, req.VidDetails)
		if err != nil {
			engine.IncrVideoChatErrors()
			if engine.IsValidation(err) {
				log.Info("videochat rejected", slog.String("detail", engine.ValidationMessage(err)))
				writeJSON(w, http.StatusBadRequest, errorResponse{Detail: engine.ValidationMessage(err)})
				return
			}
			log.Error("videochat failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal Server Error"})
			return
		}
		writeJSON(w, http.StatusOK, VideoChatResponse{Answer: answer})
	}
}

func decodeMessage(err error) string {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return "request body too large"
	case errors.Is(err, io.EOF):
		return "request body is empty"
	default:
		return "invalid JSON body: " + err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", slog.Any("error", err))
	}
}

// withCORS allows every origin, method and header. Preflights end here with 204.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin != "" {
			// A wildcard origin is not allowed together with credentials.
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "*")
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		level := slog.LevelDebug
		if rec.status >= 500 || strings.HasPrefix(r.URL.Path, "/videochat") {
			level = slog.LevelInfo
		}
		slog.Log(r.Context(), level, "http request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}
