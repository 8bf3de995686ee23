package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"briefdesk/api/internal/search"
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
		w.WriteHeader(http.StatusNoContent)
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
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Mutations require the API token when one is configured.
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if token := s.service.APIToken(); token != "" {
			supplied := strings.TrimSpace(r.Header.Get("x-briefdesk-api-token"))
			if supplied != token {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/content-types" {
		items, err := s.service.ListContentTypes(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, map[string]any{
				"id":                 item.ID,
				"name":               item.Name,
				"slug":               item.Slug,
				"seoRequiredDefault": item.SEORequiredDefault,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"contentTypes": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/channels" {
		items, err := s.service.ListChannels(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, map[string]any{
				"id":   item.ID,
				"name": item.Name,
				"slug": item.Slug,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"channels": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		items, err := s.service.ListProjects(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, map[string]any{
				"id":   item.ID,
				"name": item.Name,
				"slug": item.Slug,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:            strings.TrimSpace(r.URL.Query().Get("q")),
			FilterProjectID: strings.TrimSpace(r.URL.Query().Get("projectId")),
			FilterLanguage:  strings.TrimSpace(r.URL.Query().Get("language")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
				q.Limit = parsed
			}
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, parts)
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "variants" {
		s.handleVariants(w, r, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleProjects routes /api/projects/{id}/... subpaths.
func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	projectID := parts[2]

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "requirements" {
		matrix, err := s.service.RequirementsMatrix(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, matrix)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "requirements" && parts[4] == "export" {
		payload, filename, err := s.service.ExportRequirements(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "variants" {
		contentTypeID := strings.TrimSpace(r.URL.Query().Get("contentTypeId"))
		items, err := s.service.ListVariants(r.Context(), projectID, contentTypeID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, map[string]any{
				"id":                item.ID,
				"contentTypeId":     item.ContentTypeID,
				"channelId":         item.ChannelID,
				"language":          item.Language,
				"seoRequired":       item.SEORequired,
				"primaryKeyword":    item.PrimaryKeyword,
				"secondaryKeywords": item.SecondaryKeywords,
				"briefing":          item.Briefing,
				"updatedAt":         item.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"variants": payload})
		return
	}

	// PUT /api/projects/{id}/content-types/{ct}/override
	if r.Method == http.MethodPut && len(parts) == 6 && parts[3] == "content-types" && parts[5] == "override" {
		var body struct {
			Value *bool `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SetProjectOverride(r.Context(), projectID, parts[4], body.Value)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// PUT /api/projects/{id}/content-types/{ct}/channels/{ch|none}/override
	if r.Method == http.MethodPut && len(parts) == 8 && parts[3] == "content-types" && parts[5] == "channels" && parts[7] == "override" {
		var body struct {
			Value *bool `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		channelID := channelParam(parts[6])
		result, err := s.service.SetChannelOverride(r.Context(), projectID, parts[4], channelID, body.Value)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// POST /api/projects/{id}/channels/apply-to-variants
	if r.Method == http.MethodPost && len(parts) == 5 && parts[3] == "channels" && parts[4] == "apply-to-variants" {
		var body ApplyToVariantsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.ApplyToAllVariants(r.Context(), projectID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleVariants routes /api/variants/... subpaths.
func (s *HTTPServer) handleVariants(w http.ResponseWriter, r *http.Request, parts []string) {
	// POST /api/variants/override - upsert by key, creates the variant row
	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "override" {
		var body SetVariantOverrideInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.UpsertVariantOverride(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// POST /api/variants/keywords - upsert by key, creates the variant row
	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "keywords" {
		var body KeywordsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.UpsertKeywords(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) < 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	variantID := parts[2]

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "requirement" {
		row, err := s.service.VariantRequirement(r.Context(), variantID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, row)
		return
	}

	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "override" {
		var body struct {
			Value *bool `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SetVariantOverrideByID(r.Context(), variantID, body.Value)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// POST /api/variants/{id}/override/toggle - tri-state cycle
	if r.Method == http.MethodPost && len(parts) == 5 && parts[3] == "override" && parts[4] == "toggle" {
		result, err := s.service.ToggleVariantOverride(r.Context(), variantID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "keywords" {
		var body struct {
			PrimaryKeyword    *string  `json:"primaryKeyword"`
			SecondaryKeywords []string `json:"secondaryKeywords"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateKeywords(r.Context(), variantID, body.PrimaryKeyword, body.SecondaryKeywords); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "briefing" {
		var body struct {
			Briefing string `json:"briefing"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateBriefing(r.Context(), variantID, body.Briefing); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// channelParam maps the path segment to a channel key; "none" addresses the
// generic/no-channel variant.
func channelParam(segment string) *string {
	if segment == "none" {
		return nil
	}
	return &segment
}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-briefdesk-api-token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
