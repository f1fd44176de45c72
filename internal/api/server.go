// Package api serves the read-only opportunity API and the endpoints that
// enqueue analysis and matching workflows.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/store"
)

// DefaultSearchTopK is the number of chunks a search returns without k.
const DefaultSearchTopK = 10

const maxSearchTopK = 50

// Opportunities reads opportunities for the API.
type Opportunities interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*model.Opportunity, error)
	GetOpportunityDetail(ctx context.Context, id uuid.UUID) (*model.OpportunityDetail, error)
	ListOpportunities(ctx context.Context, filter store.OpportunityFilter) ([]model.Opportunity, int, error)
}

// Searcher runs semantic search over document chunks.
type Searcher interface {
	Search(ctx context.Context, query string, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error)
}

// Enqueuer starts analysis and matching workflows.
type Enqueuer interface {
	EnqueueAnalysis(ctx context.Context, id uuid.UUID, t model.AnalysisType) (string, error)
	EnqueueMatching(ctx context.Context, opportunityID, clientID uuid.UUID) (string, error)
}

// Server is the HTTP API.
type Server struct {
	router   *chi.Mux
	opps     Opportunities
	searcher Searcher
	enqueuer Enqueuer
	topK     int
	origins  []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithSearchTopK sets the default search result count.
func WithSearchTopK(k int) Option {
	return func(s *Server) {
		if k > 0 {
			s.topK = k
		}
	}
}

// New builds the router.
func New(opps Opportunities, searcher Searcher, enqueuer Enqueuer, opts ...Option) *Server {
	s := &Server{
		opps:     opps,
		searcher: searcher,
		enqueuer: enqueuer,
		topK:     DefaultSearchTopK,
		origins:  []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/opportunities", func(r chi.Router) {
		r.Get("/", s.listOpportunities)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getOpportunity)
			r.Get("/search", s.search)
			r.Post("/run_ai", s.runAI)
			r.Post("/run_matching", s.runMatching)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listResponse struct {
	Count   int                 `json:"count"`
	Results []model.Opportunity `json:"results"`
}

func (s *Server) listOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OpportunityFilter{
		Source:   model.Source(q.Get("source")),
		Status:   model.OpportunityStatus(q.Get("status")),
		Modality: model.Modality(q.Get("modality")),
		UF:       q.Get("uf"),
		Query:    q.Get("search"),
		Ordering: q.Get("ordering"),
	}
	if filter.Ordering == "" {
		filter.Ordering = "-published_at"
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	opps, total, err := s.opps.ListOpportunities(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, "list opportunities", err)
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listResponse{Count: total, Results: opps})
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := s.opps.GetOpportunityDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "opportunity not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "get opportunity", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type searchResponse struct {
	Query   string              `json:"query"`
	Results []model.ScoredChunk `json:"results"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, err := intParam(r.URL.Query().Get("k"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "k must be an integer")
		return
	}
	if k <= 0 {
		k = s.topK
	}
	k = min(k, maxSearchTopK)

	chunks, err := s.searcher.Search(r.Context(), query, &id, k)
	if err != nil {
		s.internalError(w, r, "search", err)
		return
	}
	if chunks == nil {
		chunks = []model.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: chunks})
}

type enqueueResponse struct {
	Status       string `json:"status"`
	WorkflowID   string `json:"workflow_id"`
	AnalysisType string `json:"analysis_type,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

func (s *Server) runAI(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existing(w, r)
	if !ok {
		return
	}
	var req struct {
		AnalysisType string `json:"analysis_type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	t, valid := model.ParseAnalysisType(req.AnalysisType)
	if !valid {
		writeError(w, http.StatusBadRequest, "analysis_type must be one of full, summary, checklist, risks")
		return
	}

	wfID, err := s.enqueuer.EnqueueAnalysis(r.Context(), id, t)
	if err != nil {
		s.internalError(w, r, "enqueue analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "queued", WorkflowID: wfID, AnalysisType: string(t)})
}

func (s *Server) runMatching(w http.ResponseWriter, r *http.Request) {
	id, ok := s.existing(w, r)
	if !ok {
		return
	}
	var req struct {
		ClientID string `json:"client_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "client_id must be a UUID")
		return
	}

	wfID, err := s.enqueuer.EnqueueMatching(r.Context(), id, clientID)
	if err != nil {
		s.internalError(w, r, "enqueue matching", err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "queued", WorkflowID: wfID, ClientID: clientID.String()})
}

// existing resolves the path ID and checks the opportunity exists.
func (s *Server) existing(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return uuid.Nil, false
	}
	if _, err := s.opps.GetOpportunity(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
		} else {
			s.internalError(w, r, "get opportunity", err)
		}
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zap.L().Error("api: "+op,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "opportunity not found")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // header already committed
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			zap.L().Info("access",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
