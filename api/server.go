package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/cache"
	"github.com/mthorsen/paper-rag/rag"
)

// Assistant is the question-answering surface the server exposes.
// *cache.Assistant satisfies it; tests substitute a stub.
type Assistant interface {
	AnswerQuestion(ctx context.Context, question string) rag.Response
	BatchProcess(ctx context.Context, questions []string) []rag.Response
	Stats() cache.Stats
}

// Server exposes HTTP handlers over the cached research assistant.
type Server struct {
	assistant Assistant
	logger    *zap.Logger
	handler   http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type askRequest struct {
	Question string `json:"question"`
}

type batchRequest struct {
	Questions []string `json:"questions"`
}

type askResponse struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	Sources  []sourceView `json:"sources"`
	Metrics  metricsView  `json:"metrics"`
	Error    string       `json:"error,omitempty"`
}

type batchResponse struct {
	Responses []askResponse `json:"responses"`
}

type sourceView struct {
	DocID    int64   `json:"docId"`
	Title    string  `json:"title"`
	Year     int     `json:"year"`
	Category string  `json:"category"`
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
}

type metricsView struct {
	SearchSeconds    float64 `json:"searchSeconds"`
	ModelSeconds     float64 `json:"modelSeconds"`
	TotalSeconds     float64 `json:"totalSeconds"`
	NumResults       int     `json:"numResults"`
	AvgScore         float64 `json:"avgScore"`
	PromptTokens     *int    `json:"promptTokens,omitempty"`
	CompletionTokens *int    `json:"completionTokens,omitempty"`
}

type statsResponse struct {
	HitRate           float64 `json:"hitRate"`
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	TotalQueries      uint64  `json:"totalQueries"`
	ResponseCacheSize int     `json:"responseCacheSize"`
	ContextCacheSize  int     `json:"contextCacheSize"`
}

func New(assistant Assistant, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{assistant: assistant, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/batch", s.handleBatch)
	mux.HandleFunc("/v1/cache/stats", s.handleStats)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question cannot be empty"))
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	s.logger.Info("ask request",
		zap.String("requestId", requestID),
		zap.String("question", question),
	)

	response := s.assistant.AnswerQuestion(r.Context(), question)
	s.writeJSON(w, http.StatusOK, toAskResponse(response))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if len(req.Questions) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("questions cannot be empty"))
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	s.logger.Info("batch request",
		zap.String("requestId", requestID),
		zap.Int("questions", len(req.Questions)),
	)

	responses := s.assistant.BatchProcess(r.Context(), req.Questions)
	views := make([]askResponse, len(responses))
	for i, response := range responses {
		views[i] = toAskResponse(response)
	}
	s.writeJSON(w, http.StatusOK, batchResponse{Responses: views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	stats := s.assistant.Stats()
	s.writeJSON(w, http.StatusOK, statsResponse{
		HitRate:           stats.HitRate,
		Hits:              stats.Hits,
		Misses:            stats.Misses,
		TotalQueries:      stats.TotalQueries,
		ResponseCacheSize: stats.ResponseCacheSize,
		ContextCacheSize:  stats.ContextCacheSize,
	})
}

func toAskResponse(response rag.Response) askResponse {
	sources := make([]sourceView, len(response.Sources))
	for i, source := range response.Sources {
		sources[i] = sourceView{
			DocID:    source.DocID,
			Title:    source.Title(),
			Year:     source.Year,
			Category: source.Category,
			URL:      source.URL,
			Score:    source.Score,
		}
	}

	return askResponse{
		Question: response.Question,
		Answer:   response.Answer,
		Sources:  sources,
		Metrics: metricsView{
			SearchSeconds:    response.SearchMetrics.TotalTime.Seconds(),
			ModelSeconds:     response.ModelMetrics.TotalTime.Seconds(),
			TotalSeconds:     response.TotalTime().Seconds(),
			NumResults:       response.SearchMetrics.NumResults,
			AvgScore:         response.SearchMetrics.AvgScore,
			PromptTokens:     response.ModelMetrics.PromptTokens,
			CompletionTokens: response.ModelMetrics.CompletionTokens,
		},
		Error: response.Error,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
