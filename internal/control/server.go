// Package control is the local HTTP surface frontends use to manage the
// queue and runtime settings.
//
// Settings changes are written through the config manager, so the running
// scheduler picks them up the same way it picks up a file edit: quota on the
// next post tick, the metrics interval by replacing that job's trigger.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bennyhartnett/instagram-poster/internal/config"
	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/internal/storage"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type Server struct {
	addr     string
	store    storage.Store
	cfgMgr   *config.Manager
	shutdown func()
	log      logx.Logger

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	started bool
}

// New builds the control server. shutdown requests a graceful process stop.
func New(addr string, store storage.Store, cfgMgr *config.Manager, shutdown func(), log logx.Logger) *Server {
	if strings.TrimSpace(addr) == "" {
		addr = config.DefaultControlAddr
	}
	return &Server{addr: addr, store: store, cfgMgr: cfgMgr, shutdown: shutdown, log: log}
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.started = true

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server stopped", logx.Err(err))
		}
	}()
	s.log.Info("control server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.ln = nil
	return err
}

// Addr returns the bound address, for tests using ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/items", s.handleListItems)
	r.Route("/items/{id}", func(r chi.Router) {
		r.Post("/schedule", s.handleSchedule)
		r.Post("/meta", s.handleMeta)
		r.Post("/activate", s.handleSetActive(true))
		r.Post("/deactivate", s.handleSetActive(false))
	})

	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)

	r.Post("/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
		if s.shutdown != nil {
			go s.shutdown()
		}
	})

	return r
}

type itemDTO struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	SHA256      string     `json:"sha256"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	MediaID     string     `json:"media_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Likes       int64      `json:"likes"`
	Comments    int64      `json:"comments"`
	Views       int64      `json:"views"`
	Active      bool       `json:"active"`
}

func toDTO(it media.Item) itemDTO {
	return itemDTO{
		ID: it.ID, Path: it.Path, SHA256: it.SHA256,
		Title: it.Title, Description: it.Description,
		CreatedAt: it.CreatedAt, ScheduledAt: it.ScheduledAt, PostedAt: it.PostedAt,
		MediaID: it.MediaID, LastError: it.LastError,
		Likes: it.Likes, Comments: it.Comments, Views: it.Views,
		Active: it.Active,
	}
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]itemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var at *time.Time
	if req.ScheduledAt != nil {
		t := req.ScheduledAt.UTC()
		at = &t
	}
	if err := s.store.SetSchedule(r.Context(), id, at); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetMeta(r.Context(), id, req.Title, req.Description); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := itemID(w, r)
		if !ok {
			return
		}
		if err := s.store.SetActive(r.Context(), id, active); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type settingsDTO struct {
	MaxPostsPerDay  int    `json:"max_posts_per_day"`
	Timezone        string `json:"timezone,omitempty"`
	MetricsInterval string `json:"metrics_refresh_interval,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfgMgr.Get()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("config not loaded"))
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{
		MaxPostsPerDay:  cfg.Posting.MaxPostsPerDay,
		Timezone:        cfg.Posting.Timezone,
		MetricsInterval: cfg.Metrics.RefreshInterval,
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxPostsPerDay  *int    `json:"max_posts_per_day"`
		Timezone        *string `json:"timezone"`
		MetricsInterval *string `json:"metrics_refresh_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	next, err := s.cfgMgr.Update(func(c *config.Config) {
		if req.MaxPostsPerDay != nil {
			c.Posting.MaxPostsPerDay = *req.MaxPostsPerDay
		}
		if req.Timezone != nil {
			c.Posting.Timezone = *req.Timezone
		}
		if req.MetricsInterval != nil {
			c.Metrics.RefreshInterval = *req.MetricsInterval
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{
		MaxPostsPerDay:  next.Posting.MaxPostsPerDay,
		Timezone:        next.Posting.Timezone,
		MetricsInterval: next.Metrics.RefreshInterval,
	})
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid item id"))
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
