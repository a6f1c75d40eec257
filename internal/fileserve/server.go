// Package fileserve exposes local media files over HTTP so the Graph API can
// fetch them by URL.
//
// Files are served under their content hash: URLFor copies the file into the
// spool directory as <sha256><ext>, so serving the same bytes twice yields
// the same URL and the copy is skipped.
package fileserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type Config struct {
	Addr string // listen address; ":0" picks a free port
	Dir  string // spool directory
	// BaseURL overrides the advertised prefix (e.g. a public tunnel).
	// Empty means "http://<listen addr>".
	BaseURL string
}

type Server struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	started bool
}

func New(cfg Config, log logx.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// Start begins listening. Starting twice is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if strings.TrimSpace(s.cfg.Dir) == "" {
		return errors.New("fileserve: dir is required")
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return err
	}

	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, filepath.Join(s.cfg.Dir, name))
	})

	srv := &http.Server{
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: time.Minute,
	}

	s.ln = ln
	s.srv = srv
	s.started = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("file server stopped", logx.Err(err))
		}
	}()
	s.log.Info("file server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the listener down. Stopping when not running is a no-op.
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

// URLFor spools localPath under its content hash and returns the URL the
// remote platform can fetch it from. Idempotent for identical bytes.
func (s *Server) URLFor(localPath string) (string, error) {
	sha, err := media.HashFile(localPath)
	if err != nil {
		return "", fmt.Errorf("fileserve: hash %s: %w", localPath, err)
	}
	name := sha + strings.ToLower(filepath.Ext(localPath))
	dest := filepath.Join(s.cfg.Dir, name)

	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		if err := copyFile(localPath, dest); err != nil {
			return "", fmt.Errorf("fileserve: spool %s: %w", localPath, err)
		}
	} else if err != nil {
		return "", err
	}

	base, err := s.baseURL()
	if err != nil {
		return "", err
	}
	return base + "/" + name, nil
}

func (s *Server) baseURL() (string, error) {
	if strings.TrimSpace(s.cfg.BaseURL) != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/"), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.ln == nil {
		return "", errors.New("fileserve: not started")
	}
	return "http://" + s.ln.Addr().String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
