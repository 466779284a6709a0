package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/ingest"
	"github.com/WessleyAI/stylesearch/pkg/imageprep"
)

// maxImageUpload bounds the multipart body of visual search.
const maxImageUpload = imageprep.DefaultMaxBytes + 1<<20

type queryService interface {
	Ask(ctx context.Context, query string) domain.RagResponse
	SearchText(ctx context.Context, query string) ([]domain.SearchHit, error)
	SearchImage(ctx context.Context, image []byte, topK int) ([]domain.SearchHit, error)
}

type ingestService interface {
	Ingest(ctx context.Context, p domain.Product) (ingest.Result, error)
}

type server struct {
	queries queryService
	ingest  ingestService
	// publish queues a product; nil when no queue is configured.
	publish func(ctx context.Context, p domain.Product) error
	log     *slog.Logger
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/search/text", s.handleSearchText)
	mux.HandleFunc("POST /api/search/image", s.handleSearchImage)
	mux.HandleFunc("POST /api/products", s.handleAddProduct)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueryRequest is the JSON body of the chat and text search endpoints.
type QueryRequest struct {
	Query string `json:"query"`
}

// HitsResponse wraps search results.
type HitsResponse struct {
	Hits []domain.SearchHit `json:"hits"`
}

// QueuedResponse is returned by an asynchronous ingestion request.
type QueuedResponse struct {
	ProductID string `json:"product_id"`
	Status    string `json:"status"`
}

// handleChat always answers 200 with a RagResponse once the body parses.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.queries.Ask(r.Context(), req.Query))
}

func (s *server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hits, err := s.queries.SearchText(r.Context(), req.Query)
	if err != nil {
		s.fail(w, r, "text search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, HitsResponse{Hits: nonNil(hits)})
}

func (s *server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer f.Close()
	img, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read image")
		return
	}

	topK := 0
	if v := r.FormValue("top_k"); v != "" {
		if topK, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
	}

	hits, err := s.queries.SearchImage(r.Context(), img, topK)
	if err != nil {
		s.fail(w, r, "image search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, HitsResponse{Hits: nonNil(hits)})
}

// handleAddProduct ingests synchronously, or queues with ?async=true.
func (s *server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var p domain.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.publish == nil {
			writeError(w, http.StatusServiceUnavailable, "asynchronous ingestion is not configured")
			return
		}
		if err := domain.ValidateProduct(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.publish(r.Context(), p); err != nil {
			s.failRaw(w, r, "queue publish failed", err)
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{ProductID: p.ProductID, Status: "queued"})
		return
	}

	res, err := s.ingest.Ingest(r.Context(), p)
	if err != nil {
		s.failRaw(w, r, "ingestion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps err to a status code. Client errors echo the message, anything
// else is logged and hidden.
func (s *server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	if code < 500 {
		writeError(w, code, err.Error())
		return
	}
	s.log.ErrorContext(r.Context(), msg, "err", err)
	writeError(w, code, msg)
}

// failRaw is fail for the ingestion endpoint: operators need the provider or
// index message, so it is returned at every status.
func (s *server) failRaw(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.ErrorContext(r.Context(), msg, "err", err)
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	var (
		ve  *domain.ValidationError
		pe  *domain.ProviderError
		iwe *domain.IndexWriteError
		ise *domain.IndexSearchError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, imageprep.ErrEmptyImage), errors.Is(err, imageprep.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, imageprep.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrAlreadyIngested):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmbeddingTaskFailed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe), errors.As(err, &iwe), errors.As(err, &ise):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(hits []domain.SearchHit) []domain.SearchHit {
	if hits == nil {
		return []domain.SearchHit{}
	}
	return hits
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
