package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
)

// Service is the part of the scheduler the HTTP surface needs.
type Service interface {
	Submit(ctx context.Context, kind domain.TaskKind, input json.RawMessage, owner string, metadata map[string]string) (string, error)
	Cancel(ctx context.Context, id, owner string) error
	Status(ctx context.Context, id string) (domain.Snapshot, error)
	Stats(ctx context.Context) ([]domain.LaneStats, error)
}

type Catalog interface {
	List() []domain.ReportTemplate
}

const ownerHeader = "X-Owner"

type submitReq struct {
	Kind     domain.TaskKind   `json:"kind" validate:"required"`
	Input    json.RawMessage   `json:"input" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

type Server struct {
	router   *chi.Mux
	svc      Service
	catalog  Catalog
	validate *validator.Validate
}

func NewServer(svc Service, catalog Catalog) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		svc:      svc,
		catalog:  catalog,
		validate: validator.New(),
	}

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.submit)
		r.Get("/{id}", s.status)
		r.Delete("/{id}", s.cancel)
	})
	s.router.Get("/stats", s.stats)
	s.router.Get("/templates", s.templates)
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.svc.Submit(r.Context(), req.Kind, req.Input, r.Header.Get(ownerHeader), req.Metadata)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/tasks/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.StatusPending)})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Cancel(r.Context(), id, r.Header.Get(ownerHeader)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusCancelled)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lanes": stats})
}

type templateSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Sections []string `json:"sections"`
	Charts   int      `json:"charts"`
	Tables   int      `json:"tables"`
}

func (s *Server) templates(w http.ResponseWriter, r *http.Request) {
	list := s.catalog.List()
	out := make([]templateSummary, 0, len(list))
	for _, t := range list {
		ts := templateSummary{ID: t.ID, Name: t.Name, Charts: len(t.Charts), Tables: len(t.Tables)}
		for _, sec := range t.Sections {
			ts.Sections = append(ts.Sections, sec.ID)
		}
		out = append(out, ts)
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict
	}
	if domain.KindOf(err) == domain.ErrKindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Err(err).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("server serving on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("failed to listen and serve: %w", err)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
