package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(redmineURL string) *Server {
	return NewServer(Config{
		RedmineURL: redmineURL,
		Port:       8080,
	})
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer("http://localhost")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body 'OK', got '%s'", w.Body.String())
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	server := newTestServer("http://localhost")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"kind":"config"`) {
		t.Errorf("expected config error kind, got: %s", w.Body.String())
	}
}

func TestListIssues(t *testing.T) {
	mockRedmine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("X-Redmine-API-Key"); got != "caller-key" {
			t.Errorf("expected caller's API key forwarded, got %q", got)
		}
		_, _ = w.Write([]byte(`{"issues":[{"id":1,"subject":"One","status":{"id":1,"name":"New"}}],"total_count":1}`))
	}))
	defer mockRedmine.Close()

	server := newTestServer(mockRedmine.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues?status=open", nil)
	req.Header.Set("X-Redmine-API-Key", "caller-key")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("expected count=1, got %v", body["count"])
	}
}

func TestGetIssue_NotFound(t *testing.T) {
	mockRedmine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer mockRedmine.Close()

	server := newTestServer(mockRedmine.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/999", nil)
	req.Header.Set("X-Redmine-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"kind":"not_found"`) {
		t.Errorf("expected not_found error kind, got: %s", w.Body.String())
	}
}

func TestGetIssue_InvalidID(t *testing.T) {
	server := newTestServer("http://localhost")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/abc", nil)
	req.Header.Set("X-Redmine-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestDownloadAttachments_Partial(t *testing.T) {
	var mockRedmine *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/7.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issue": {
			"id": 7, "subject": "Batch", "status": {"id": 1, "name": "New"},
			"attachments": [
				{"id": 1, "filename": "good.txt", "content_url": "` + mockRedmine.URL + `/attachments/download/1/good.txt"},
				{"id": 2, "filename": "bad.txt", "content_url": "` + mockRedmine.URL + `/attachments/download/2/bad.txt"}
			]
		}}`))
	})
	mux.HandleFunc("GET /attachments/download/1/good.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("good"))
	})
	mux.HandleFunc("GET /attachments/download/2/bad.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mockRedmine = httptest.NewServer(mux)
	defer mockRedmine.Close()

	server := newTestServer(mockRedmine.URL)

	dir := t.TempDir()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/7/attachments/download?destination_dir="+dir, nil)
	req.Header.Set("X-Redmine-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["saved_count"].(float64) != 1 || body["failed_count"].(float64) != 1 {
		t.Errorf("expected 1 saved / 1 failed, got: %s", w.Body.String())
	}
	errObj := body["error"].(map[string]any)
	if errObj["kind"] != "partial_download" {
		t.Errorf("expected partial_download kind, got %v", errObj["kind"])
	}
}

func TestExportIssues(t *testing.T) {
	mockRedmine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issues":[{"id":1,"subject":"One","status":{"id":1,"name":"New"}}],"total_count":1}`))
	}))
	defer mockRedmine.Close()

	server := newTestServer(mockRedmine.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/export", nil)
	req.Header.Set("X-Redmine-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("expected XLSX content type, got %q", ct)
	}
	// XLSX files are ZIP archives.
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Error("expected ZIP magic bytes in export body")
	}
}
