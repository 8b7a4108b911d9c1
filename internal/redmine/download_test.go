package redmine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// downloadFixture wires a fake Redmine serving one issue whose
// attachments point back at the same server.
func downloadFixture(t *testing.T, issueID int, files map[string]string, failing map[string]bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var ts *httptest.Server

	mux.HandleFunc("GET /issues/"+strconv.Itoa(issueID)+".json", func(w http.ResponseWriter, r *http.Request) {
		var attachments []Attachment
		id := 1
		for name := range files {
			attachments = append(attachments, Attachment{
				ID:         id,
				Filename:   name,
				ContentURL: ts.URL + "/attachments/download/" + strconv.Itoa(id) + "/" + name,
			})
			id++
		}
		_, _ = w.Write([]byte(issueJSON(t, issueID, "Fix login bug", attachments)))
	})

	mux.HandleFunc("GET /attachments/download/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		name := parts[len(parts)-1]
		if failing[name] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		content, ok := files[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(content))
	})

	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestDownloadIssueAttachments_AllSucceed(t *testing.T) {
	files := map[string]string{
		"trace.log":  "log contents",
		"screen.png": "png bytes",
	}
	ts := downloadFixture(t, 42, files, nil)
	dir := t.TempDir()

	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 42, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Saved) != 2 {
		t.Fatalf("expected 2 saved files, got %d", len(report.Saved))
	}
	if len(report.Failed) != 0 {
		t.Errorf("expected no failures, got %+v", report.Failed)
	}
	if report.Dir != filepath.Join(dir, "issue_42") {
		t.Errorf("unexpected download dir: %s", report.Dir)
	}

	for _, path := range report.Saved {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("saved file unreadable: %v", err)
		}
		want := files[filepath.Base(path)]
		if string(data) != want {
			t.Errorf("file %s: expected %q, got %q", path, want, string(data))
		}
	}
}

func TestDownloadIssueAttachments_PartialFailure(t *testing.T) {
	files := map[string]string{
		"a.txt": "aaa",
		"b.txt": "bbb",
		"c.txt": "ccc",
	}
	ts := downloadFixture(t, 7, files, map[string]bool{"b.txt": true})
	dir := t.TempDir()

	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 7, dir)
	if err == nil {
		t.Fatal("expected partial_download error, got nil")
	}
	if KindOf(err) != KindPartialDownload {
		t.Fatalf("expected partial_download kind, got %s", KindOf(err))
	}
	if report == nil {
		t.Fatal("expected report alongside partial failure")
	}
	if len(report.Saved) != 2 {
		t.Errorf("expected 2 saved files, got %d (%v)", len(report.Saved), report.Saved)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(report.Failed))
	}
	if report.Failed[0].Filename != "b.txt" {
		t.Errorf("expected b.txt to fail, got %s", report.Failed[0].Filename)
	}
	// The failing file must not be left partially written.
	if _, err := os.Stat(filepath.Join(report.Dir, "b.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no file for failed download, stat err=%v", err)
	}
}

func TestDownloadIssueAttachments_NoAttachments(t *testing.T) {
	ts := downloadFixture(t, 5, nil, nil)
	dir := t.TempDir()

	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 5, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Saved) != 0 || len(report.Failed) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	// No directory should be created for an attachment-less issue.
	if _, err := os.Stat(report.Dir); !os.IsNotExist(err) {
		t.Errorf("expected no directory, stat err=%v", err)
	}
}

func TestDownloadIssueAttachments_MissingContentURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/9.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(issueJSON(t, 9, "No URL", []Attachment{
			{ID: 1, Filename: "ghost.bin"},
		})))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 9, t.TempDir())
	if KindOf(err) != KindPartialDownload {
		t.Fatalf("expected partial_download kind, got %s", KindOf(err))
	}
	if len(report.Failed) != 1 || report.Failed[0].Filename != "ghost.bin" {
		t.Errorf("expected ghost.bin failure, got %+v", report.Failed)
	}
}

func TestDownloadIssueAttachments_IssueNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 404, t.TempDir())
	if !IsNotFound(err) {
		t.Fatalf("expected not_found kind, got %s", KindOf(err))
	}
}

func TestDownloadIssueAttachments_SanitizesFilename(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/3.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(issueJSON(t, 3, "Traversal", []Attachment{
			{ID: 1, Filename: "../../escape.txt", ContentURL: ts.URL + "/attachments/download/1/escape.txt"},
		})))
	})
	mux.HandleFunc("GET /attachments/download/1/escape.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("content"))
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	dir := t.TempDir()
	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 3, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Saved) != 1 {
		t.Fatalf("expected 1 saved file, got %d", len(report.Saved))
	}
	want := filepath.Join(dir, "issue_3", "escape.txt")
	if report.Saved[0] != want {
		t.Errorf("expected sanitized path %s, got %s", want, report.Saved[0])
	}
}

func TestDownloadIssueAttachments_DefaultDir(t *testing.T) {
	ts := downloadFixture(t, 1, nil, nil)

	report, err := testClient(ts.URL).DownloadIssueAttachments(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !filepath.IsAbs(report.Dir) {
		t.Errorf("expected absolute dir, got %s", report.Dir)
	}
	if filepath.Base(report.Dir) != "issue_1" {
		t.Errorf("expected issue_1 leaf dir, got %s", report.Dir)
	}
}
