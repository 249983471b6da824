package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bookspace/internal/ratelimit"
	"bookspace/internal/util"
	"bookspace/pkg/catalog"
	"bookspace/pkg/domain"
	"bookspace/services/bookspace/internal/app"
)

const maxBodyBytes = 1 << 20

// noStorePaths serve library state that changes on every write.
var noStorePaths = []string{"/api/library"}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SearchRateLimitPerMinute int
	TrustedProxyCIDRs        []string
	CORSAllowOrigin          string
}

// Server exposes the catalog and library over HTTP.
type Server struct {
	app        *app.App
	mux        *http.ServeMux
	validate   *validator.Validate
	limiter    *ratelimit.FixedWindowLimiter
	trusted    *util.TrustedProxies
	corsOrigin string
}

// New constructs the server with routes configured. Catalog endpoints are
// rate limited only when SearchRateLimitPerMinute is positive.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:        cfg.App,
		mux:        http.NewServeMux(),
		validate:   newValidator(),
		trusted:    trusted,
		corsOrigin: cfg.CORSAllowOrigin,
	}
	if cfg.SearchRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"bookspace:ratelimit:catalog", cfg.SearchRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init catalog limiter: %w", err)
		}
		s.limiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bookspace", util.WithSecurityHeaders(noStorePaths, util.WithCORS(s.corsOrigin, s.mux))))
}

// Close releases the rate limiter connection.
func (s *Server) Close() error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/statuses", s.handleStatuses)

	// catalog
	s.mux.Handle("/api/books/popular", s.withRateLimit(s.handlePopular))
	s.mux.Handle("/api/books/search", s.withRateLimit(s.handleSearch))
	s.mux.Handle("/api/books/", s.withRateLimit(s.handleBookByID))

	// library
	s.mux.HandleFunc("/api/library", s.handleLibrary)
	s.mux.HandleFunc("/api/library/", s.handleLibraryItem)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusOption struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	statuses := domain.ReadingStatuses()
	items := make([]statusOption, 0, len(statuses))
	for _, st := range statuses {
		items = append(items, statusOption{Index: st.Index(), Code: st.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.PopularBooks(r.Context())
	if err != nil {
		s.writeCatalogError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.SearchBooks(r.Context(), r.URL.Query().Get("q"))
	if errors.Is(err, app.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, "search query required")
		return
	}
	if err != nil {
		s.writeCatalogError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

// /api/books/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	detail, err := s.app.BookDetails(r.Context(), id)
	if err != nil {
		s.writeCatalogError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type bookPayload struct {
	ID            string   `json:"id" validate:"required,max=128"`
	Title         string   `json:"title" validate:"required"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description"`
	ImageURL      string   `json:"imageURL" validate:"omitempty,url"`
	PublishedDate string   `json:"publishedDate"`
}

func (b bookPayload) toBook() domain.Book {
	return domain.Book{
		ID:            strings.TrimSpace(b.ID),
		Title:         b.Title,
		Authors:       b.Authors,
		Description:   b.Description,
		ImageURL:      b.ImageURL,
		PublishedDate: b.PublishedDate,
	}
}

type saveRequest struct {
	Book   bookPayload `json:"book"`
	Status string      `json:"status" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type statusResponse struct {
	ID     string  `json:"id"`
	Status *string `json:"status"`
	Index  *int    `json:"index,omitempty"`
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books := s.app.MyBooks(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
	case http.MethodPost:
		var req saveRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		status, ok := domain.ParseReadingStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		saved, err := s.app.AddToLibrary(r.Context(), req.Book.toBook(), status)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	default:
		methodNotAllowed(w)
	}
}

// /api/library/{id} or /api/library/{id}/status
func (s *Server) handleLibraryItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/library/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "status" {
			notFound(w, "not found")
			return
		}
		s.handleLibraryStatus(w, r, id)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.RemoveFromLibrary(r.Context(), id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleLibraryStatus(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		resp := statusResponse{ID: id}
		if status, ok := s.app.BookStatus(r.Context(), id); ok {
			code, index := status.String(), status.Index()
			resp.Status, resp.Index = &code, &index
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPut:
		var req statusRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		status, ok := domain.ParseReadingStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		if err := s.app.UpdateStatus(r.Context(), id, status); err != nil {
			s.writeAppError(w, err)
			return
		}
		code, index := status.String(), status.Index()
		writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: &code, Index: &index})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage reports the first failing field by its JSON path.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	if fe.Tag() == "required" {
		return fmt.Sprintf("invalid request: %s is required", field)
	}
	return fmt.Sprintf("invalid request: %s failed %s", field, fe.Tag())
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
		d, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("rate limit check failed", "err", err)
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(d.RetryAfter.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidBook):
		writeError(w, http.StatusBadRequest, "book id and title required")
	case errors.Is(err, app.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid status")
	case errors.Is(err, app.ErrBookIDEmpty):
		writeError(w, http.StatusBadRequest, "book id required")
	case errors.Is(err, app.ErrLibraryUnavailable):
		writeError(w, http.StatusServiceUnavailable, "library storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeCatalogError maps a catalog failure to a gateway-style status. List
// endpoints mark their failures retryable so clients can offer a retry.
func (s *Server) writeCatalogError(w http.ResponseWriter, r *http.Request, err error, retryable bool) {
	var netErr *catalog.NetworkError
	if !errors.As(err, &netErr) {
		if errors.Is(err, app.ErrBookIDEmpty) {
			writeError(w, http.StatusBadRequest, "book id required")
			return
		}
		netErr = &catalog.NetworkError{Kind: catalog.KindUnknown, Err: err}
	}
	status := http.StatusInternalServerError
	switch netErr.Kind {
	case catalog.KindServer, catalog.KindNoData, catalog.KindDecoding:
		status = http.StatusBadGateway
	case catalog.KindNetworkFailure:
		status = http.StatusGatewayTimeout
	case catalog.KindInvalidURL:
		status = http.StatusBadRequest
	}
	util.LoggerFromContext(r.Context()).Warn("catalog request failed",
		"path", r.URL.Path, "kind", netErr.Kind.String(), "err", err)
	writeJSON(w, status, errorResponse{
		Error:          netErr.Error(),
		Code:           "CATALOG_" + strings.ToUpper(netErr.Kind.String()),
		RequestID:      strings.TrimSpace(w.Header().Get("X-Request-Id")),
		Retryable:      retryable,
		UpstreamStatus: netErr.StatusCode,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	RequestID      string `json:"requestId,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "search query required":
		return "CATALOG_QUERY_REQUIRED"
	case message == "invalid status":
		return "LIBRARY_INVALID_STATUS"
	case message == "book id and title required", message == "book id required":
		return "LIBRARY_INVALID_BOOK"
	case message == "library storage unavailable":
		return "LIBRARY_UNAVAILABLE"
	case message == "rate limit exceeded":
		return "SYSTEM_RATE_LIMITED"
	case message == "invalid json body", strings.HasPrefix(message, "invalid request"):
		return "LIBRARY_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
