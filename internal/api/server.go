package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/bl4ck0w1/easmscan/internal/orchestration"
	"github.com/bl4ck0w1/easmscan/internal/storage"
	"github.com/bl4ck0w1/easmscan/pkg/models"
)

// Discoverer is satisfied by *passive.Manager.
type Discoverer interface {
	GatherDomainInformation(ctx context.Context, domain string) (*models.DiscoveryResult, error)
}

// ResultStore is satisfied by *storage.ResultStore.
type ResultStore interface {
	Save(result *models.ScanResult) (string, error)
	Load(scanID string) (*models.ScanResult, error)
	List() ([]storage.ResultSummary, error)
}

type Server struct {
	scanner    *orchestration.Scanner
	discoverer Discoverer
	results    ResultStore
	metrics    http.Handler
	config     models.APIConfig
	logger     *logrus.Logger
	router     chi.Router
}

// NewServer wires the routes. discoverer and metrics may be nil; the
// matching routes then answer 503 and 404.
func NewServer(scanner *orchestration.Scanner, discoverer Discoverer, metrics http.Handler, config models.APIConfig, logger *logrus.Logger) (*Server, error) {
	if scanner == nil {
		return nil, fmt.Errorf("%w: scanner is required", orchestration.ErrConfiguration)
	}
	if config.Authentication && config.JWTSecret == "" && len(config.APIKeyHashes) == 0 {
		return nil, fmt.Errorf("%w: jwt secret or api key hashes are required when authentication is enabled", orchestration.ErrConfiguration)
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		scanner:    scanner,
		discoverer: discoverer,
		metrics:    metrics,
		config:     config,
		logger:     logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(s.requestLogger)
	if len(s.config.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", APIKeyHeader},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.metrics)
	}

	mux.Route("/api", func(rt chi.Router) {
		if s.config.Authentication {
			rt.Use(s.authenticate)
		}
		rt.Post("/scan", s.wrap(s.handleScan))
		rt.Post("/discover", s.wrap(s.handleDiscover))
		rt.Get("/scans", s.wrap(s.handleListScans))
		rt.Get("/scans/{id}", s.wrap(s.handleGetScan))
		rt.Delete("/scans/{id}", s.wrap(s.handleCancelScan))
		rt.Get("/results", s.wrap(s.handleListResults))
		rt.Get("/results/{id}", s.wrap(s.handleGetResult))
		rt.Get("/capabilities", s.wrap(s.handleCapabilities))
		rt.Get("/stats", s.wrap(s.handleStats))
	})
	return mux
}

// WithResultStore persists completed scans and enables /api/results.
func (s *Server) WithResultStore(store ResultStore) *Server {
	s.results = store
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// scans run inside the request
		WriteTimeout: timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("EASM scanner API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}
