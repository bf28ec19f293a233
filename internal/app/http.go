package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eveshi/bitranslator/internal/export"
	"github.com/eveshi/bitranslator/internal/search"
	"github.com/eveshi/bitranslator/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"cache":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.PingCache(ctx); err != nil {
			// A cold cache degrades reads but does not block the service.
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:      r.URL.Query().Get("q"),
			ProjectID: r.URL.Query().Get("project_id"),
			Field:     search.Field(r.URL.Query().Get("field")),
			Limit:     queryInt(r, "limit", 20),
			Offset:    queryInt(r, "offset", 0),
		}
		if strings.TrimSpace(q.Text) == "" {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		payload, err := s.service.ListProjects(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/projects" {
		var body CreateProjectRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateProject(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProject(w, r, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "chapters" {
		s.handleChapter(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleProject dispatches /api/projects/{id} and its subresources.
func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPatch:
			var body struct {
				Name           *string `json:"name"`
				SourceLanguage *string `json:"source_language"`
				TargetLanguage *string `json:"target_language"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProjectSettings(ctx, projectID, body.Name, body.SourceLanguage, body.TargetLanguage)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteProject(ctx, projectID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 {
		switch {
		case r.Method == http.MethodGet && rest[0] == "chapters":
			payload, err := s.service.ListChapters(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"chapters": payload})
			return
		case r.Method == http.MethodGet && rest[0] == "progress":
			payload, err := s.service.Progress(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case r.Method == http.MethodPost && rest[0] == "analyze":
			s.act(w, func() error { return s.service.StartAnalysis(ctx, projectID) })
			return
		case r.Method == http.MethodGet && rest[0] == "analysis":
			payload, err := s.service.GetAnalysis(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case r.Method == http.MethodPost && rest[0] == "renumber":
			var body struct {
				Mode  string `json:"numbering_mode"`
				Force bool   `json:"force"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.Renumber(ctx, projectID, body.Mode, body.Force)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"chapters": payload})
			return
		case r.Method == http.MethodGet && rest[0] == "name-map":
			payload, err := s.service.NameMap(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"names": payload})
			return
		case r.Method == http.MethodPost && rest[0] == "rescan-names":
			payload, err := s.service.RescanNames(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"names": payload})
			return
		case r.Method == http.MethodPost && rest[0] == "translate-titles":
			s.act(w, func() error { return s.service.TranslateTitles(ctx, projectID) })
			return
		case r.Method == http.MethodPost && rest[0] == "recover":
			payload, err := s.service.Recover(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	if len(rest) >= 1 && rest[0] == "strategy" {
		s.handleStrategy(w, r, projectID, rest[1:])
		return
	}

	if len(rest) >= 1 && rest[0] == "analysis" && len(rest) == 2 && rest[1] == "refine" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Feedback string `json:"feedback"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.act(w, func() error { return s.service.RefineAnalysis(ctx, projectID, body.Feedback) })
		return
	}

	if len(rest) >= 1 && rest[0] == "translate" {
		s.handleTranslate(w, r, projectID, rest[1:])
		return
	}

	if len(rest) == 2 && rest[0] == "export" && rest[1] == "bundle" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		result, err := s.service.ExportBundle(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeDownload(w, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleStrategy dispatches /api/projects/{id}/strategy[...].
func (s *HTTPServer) handleStrategy(w http.ResponseWriter, r *http.Request, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetStrategy(ctx, projectID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var fields map[string]any
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.act(w, func() error { return s.service.UpdateStrategy(ctx, projectID, fields) })
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && r.Method == http.MethodPost {
		switch rest[0] {
		case "generate":
			s.act(w, func() error { return s.service.GenerateStrategy(ctx, projectID) })
			return
		case "refine":
			var body struct {
				Feedback string `json:"feedback"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.act(w, func() error { return s.service.RefineStrategy(ctx, projectID, body.Feedback) })
			return
		}
	}

	if len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet {
		payload, err := s.service.ListStrategyVersions(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
		return
	}

	if len(rest) == 3 && rest[0] == "versions" && rest[2] == "restore" && r.Method == http.MethodPost {
		version, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be an integer", nil)
			return
		}
		payload, err := s.service.RestoreStrategyVersion(ctx, projectID, version)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleTranslate dispatches /api/projects/{id}/translate/{action}.
func (s *HTTPServer) handleTranslate(w http.ResponseWriter, r *http.Request, projectID string, rest []string) {
	ctx := r.Context()
	if len(rest) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "sample":
		var body struct {
			ChapterIndex *int `json:"chapter_index"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		index := -1
		if body.ChapterIndex != nil {
			index = *body.ChapterIndex
		}
		s.act(w, func() error { return s.service.TranslateSample(ctx, projectID, index) })
	case "all":
		var body struct {
			StartChapter int  `json:"start_chapter"`
			EndChapter   *int `json:"end_chapter"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		end := -1
		if body.EndChapter != nil {
			end = *body.EndChapter
		}
		s.act(w, func() error { return s.service.TranslateAll(ctx, projectID, body.StartChapter, end) })
	case "continue":
		s.act(w, func() error { return s.service.ContinueTranslation(ctx, projectID) })
	case "stop":
		s.act(w, func() error { return s.service.StopTranslation(ctx, projectID) })
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleChapter dispatches /api/chapters/{id} and its subresources.
func (s *HTTPServer) handleChapter(w http.ResponseWriter, r *http.Request, chapterID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetChapter(ctx, chapterID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 {
		switch {
		case r.Method == http.MethodGet && rest[0] == "rendered":
			payload, err := s.service.RenderedChapter(ctx, chapterID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case r.Method == http.MethodGet && rest[0] == "highlights":
			payload, err := s.service.ListHighlights(ctx, chapterID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"highlights": payload})
			return
		case r.Method == http.MethodPut && rest[0] == "highlights":
			var body struct {
				Highlights []store.Highlight `json:"highlights"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.PutHighlights(ctx, chapterID, body.Highlights)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"highlights": payload})
			return
		case r.Method == http.MethodGet && rest[0] == "annotations":
			payload, err := s.service.ListAnnotations(ctx, chapterID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"annotations": payload})
			return
		case r.Method == http.MethodGet && rest[0] == "versions":
			payload, err := s.service.ListChapterVersions(ctx, chapterID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
			return
		case r.Method == http.MethodPost && rest[0] == "retranslate":
			var body struct {
				ProjectID         string         `json:"project_id"`
				Feedback          string         `json:"feedback"`
				StrategyOverrides map[string]any `json:"strategy_overrides"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			projectID := body.ProjectID
			if projectID == "" {
				ch, err := s.service.GetChapter(ctx, chapterID)
				if err != nil {
					s.fail(w, err)
					return
				}
				projectID = ch.ProjectID
			}
			s.act(w, func() error {
				return s.service.RetranslateChapter(ctx, projectID, chapterID, body.Feedback, body.StrategyOverrides)
			})
			return
		}
	}

	if len(rest) == 2 && rest[0] == "versions" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		version, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be an integer", nil)
			return
		}
		payload, err := s.service.RestoreChapterVersion(ctx, chapterID, version)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 2 && rest[0] == "export" && rest[1] == "pdf" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		result, err := s.service.ExportChapterPDF(ctx, chapterID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeDownload(w, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// act runs a state-changing service call and writes the boilerplate
// accepted/error responses.
func (s *HTTPServer) act(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// ── Middleware and helpers ──────────────────────────────────────────────

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeDownload streams a binary export; it replaces the JSON content
// type the middleware set.
func writeDownload(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrVersionNotFound) {
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	}
	if errors.Is(err, export.ErrNothingToExport) {
		return http.StatusConflict, "NOTHING_TO_EXPORT", "Chapter has no translation to export", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available on this host", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
