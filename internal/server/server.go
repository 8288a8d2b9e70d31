// Package server exposes the chunker and the relay over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/chunker"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/metrics"
	"github.com/mwiater/relay/internal/relay"
)

// Server routes API requests to the chunker and the responder.
type Server struct {
	addr         string
	maxLength    int
	maxBodyBytes int64
	responder    *relay.Responder
	recorder     *metrics.Recorder
	forward      relay.Sender
	router       chi.Router
}

// New builds the router. forward, when non-nil, receives every reply fragment in
// addition to the HTTP response (for example a Discord webhook).
func New(cfg appconfig.Config, responder *relay.Responder, recorder *metrics.Recorder, forward relay.Sender) *Server {
	s := &Server{
		addr:         cfg.Server.Addr,
		maxLength:    cfg.MaxLength,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		responder:    responder,
		recorder:     recorder,
		forward:      forward,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.limitBody)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Post("/v1/chunk", s.handleChunk)
	if responder != nil {
		r.Post("/v1/messages", s.handleMessage)
		r.Delete("/v1/history/{userID}", s.handleResetHistory)
	}
	if recorder != nil {
		r.Handle("/metrics", recorder.Handler())
	}
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogEvent("relay API listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logging.LogEvent("relay API shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type chunkRequest struct {
	Text      string `json:"text"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Policy    string `json:"policy,omitempty"`
}

type chunkResponse struct {
	Fragments []string `json:"fragments"`
	Count     int      `json:"count"`
	Balanced  bool     `json:"balanced"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	var in chunkRequest
	if !decode(w, r, &in) {
		return
	}
	maxLength := s.maxLength
	if in.MaxLength != nil {
		maxLength = *in.MaxLength
	}
	policy, err := chunker.ParseFencePolicy(in.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := chunker.New(maxLength, chunker.WithFencePolicy(policy))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fragments := c.Chunk(in.Text)
	resp := chunkResponse{Fragments: fragments, Count: len(fragments), Balanced: true}
	oversize := 0
	for _, f := range fragments {
		if !chunker.Balanced(f) {
			resp.Balanced = false
		}
		if utf8.RuneCountInString(f) > maxLength {
			oversize++
		}
	}
	s.recorder.ObserveChunk(len(fragments), oversize)
	writeJSON(w, http.StatusOK, resp)
}

type messageRequest struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"userId"`
	Channel string `json:"channel,omitempty"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID        string   `json:"id"`
	Fragments []string `json:"fragments"`
	Fallback  bool     `json:"fallback"`
	Skipped   bool     `json:"skipped,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in messageRequest
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "missing 'userId'")
		return
	}

	collector := &relay.Collector{}
	var out relay.Sender = collector
	if s.forward != nil {
		out = relay.MultiSender{collector, s.forward}
	}

	res, err := s.responder.Handle(r.Context(), relay.Inbound{
		ID:      in.ID,
		UserID:  in.UserID,
		Channel: in.Channel,
		Content: in.Content,
	}, out)
	if err != nil {
		logging.LogEvent("message %s failed: %v", res.ID, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	fragments := res.Fragments
	if fragments == nil {
		fragments = []string{}
	}
	writeJSON(w, http.StatusOK, messageResponse{
		ID:        res.ID,
		Fragments: fragments,
		Fallback:  res.Fallback,
		Skipped:   res.Skipped,
	})
}

func (s *Server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.responder.Reset(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.LogEvent("%s %s status=%d bytes=%d duration=%s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
