package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"briefdesk/api/internal/requirement"
	"briefdesk/api/internal/store"
)

func newTestHandler(st *fakeStore) http.Handler {
	return NewHTTPServer(newTestService(st, nil), "*").Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func authed(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return doRequest(t, handler, method, path, body, map[string]string{
		"x-briefdesk-api-token": "test-token",
		"Content-Type":          "application/json",
	})
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(&fakeStore{})
	recorder := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	handler := newTestHandler(&fakeStore{
		pingFn: func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})
	recorder := doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestMutationsRequireAPIToken(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := doRequest(t, handler, http.MethodPut,
		"/api/projects/proj-1/content-types/ct-1/override", `{"value":true}`, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = authed(t, handler, http.MethodPut,
		"/api/projects/proj-1/content-types/ct-1/override", `{"value":true}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRequirementsMatrixRoute(t *testing.T) {
	handler := newTestHandler(&fakeStore{
		listEffectiveRequirementsFn: func(_ context.Context, projectID string) ([]store.EffectiveRequirement, error) {
			if projectID != "proj-1" {
				t.Fatalf("unexpected project %q", projectID)
			}
			return []store.EffectiveRequirement{
				{VariantID: "var-1", ContentTypeID: "ct-1", Language: "en", Required: true, Source: requirement.SourceChannel},
			}, nil
		},
	})

	recorder := doRequest(t, handler, http.MethodGet, "/api/projects/proj-1/requirements", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var matrix Matrix
	if err := json.NewDecoder(recorder.Body).Decode(&matrix); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if matrix.ProjectID != "proj-1" || len(matrix.Rows) != 1 {
		t.Fatalf("unexpected matrix %+v", matrix)
	}
	if matrix.Rows[0].Source != requirement.SourceChannel {
		t.Fatalf("unexpected source %q", matrix.Rows[0].Source)
	}
}

func TestChannelOverrideRouteMapsNoneToNilChannel(t *testing.T) {
	var gotChannel *string = strPtr("sentinel")
	handler := newTestHandler(&fakeStore{
		setChannelOverrideFn: func(_ context.Context, _, _ string, channelID *string, _ *bool) (store.UpsertOutcome, error) {
			gotChannel = channelID
			return store.OutcomeCreated, nil
		},
	})

	recorder := authed(t, handler, http.MethodPut,
		"/api/projects/proj-1/content-types/ct-1/channels/none/override", `{"value":false}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if gotChannel != nil {
		t.Fatalf("expected nil channel for the none segment, got %q", *gotChannel)
	}

	recorder = authed(t, handler, http.MethodPut,
		"/api/projects/proj-1/content-types/ct-1/channels/ch-web/override", `{"value":false}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if gotChannel == nil || *gotChannel != "ch-web" {
		t.Fatalf("expected channel ch-web, got %v", gotChannel)
	}
}

func TestToggleRouteReportsEffectiveValue(t *testing.T) {
	handler := newTestHandler(&fakeStore{
		getOverrideLayersFn: func(_ context.Context, variantID string) (store.OverrideLayers, error) {
			layers := store.OverrideLayers{
				VariantID: variantID,
				Key:       store.VariantKey{ProjectID: "proj-1", ContentTypeID: "ct-1", Language: "en"},
			}
			return layers, nil
		},
	})

	recorder := authed(t, handler, http.MethodPost, "/api/variants/var-1/override/toggle", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result OverrideResult
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// inherit toggles to an explicit requirement
	if result.Value == nil || !*result.Value {
		t.Fatalf("expected toggled value true, got %v", result.Value)
	}
	if result.Effective == nil || result.Effective.Source != requirement.SourceVariant {
		t.Fatalf("unexpected effective %+v", result.Effective)
	}
}

func TestApplyToVariantsRoute(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := authed(t, handler, http.MethodPost,
		"/api/projects/proj-1/channels/apply-to-variants",
		`{"contentTypeId":"ct-1","value":true,"variantIds":["var-1","var-2"]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["updated"] != float64(2) {
		t.Fatalf("expected 2 updates, got %v", payload["updated"])
	}
}

func TestApplyToVariantsRouteRejectsEmptyIDs(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := authed(t, handler, http.MethodPost,
		"/api/projects/proj-1/channels/apply-to-variants", `{"value":true,"variantIds":[]}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestExportRouteSetsSpreadsheetHeaders(t *testing.T) {
	handler := newTestHandler(&fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, Name: "Acme Docs", Slug: "acme-docs"}, nil
		},
	})

	recorder := doRequest(t, handler, http.MethodGet, "/api/projects/proj-1/requirements/export", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := recorder.Header().Get("Content-Disposition"); !strings.Contains(got, "seo-requirements-acme-docs.xlsx") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if recorder.Body.Len() == 0 {
		t.Fatal("expected a non-empty workbook")
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	handler := newTestHandler(&fakeStore{})
	recorder := doRequest(t, handler, http.MethodGet, "/api/nope", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestVariantOverrideUpsertRouteValidates(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := authed(t, handler, http.MethodPost, "/api/variants/override", `{"projectId":"proj-1"}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing fields, got %d", recorder.Code)
	}

	recorder = authed(t, handler, http.MethodPost, "/api/variants/override",
		`{"projectId":"proj-1","contentTypeId":"ct-1","language":"en","value":true}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result OverrideResult
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.VariantID == "" || result.Outcome != store.OutcomeCreated {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCORSHeadersPresent(t *testing.T) {
	handler := newTestHandler(&fakeStore{})
	recorder := doRequest(t, handler, http.MethodOptions, "/api/projects", "", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}
