package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ycho/redmine-reader-mcp/internal/redmine"
)

// @title Redmine Reader API
// @version 1.0
// @description Read-only REST API for querying Redmine issues, projects, and attachments
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-Redmine-API-Key

type contextKey string

const clientContextKey contextKey = "redmineClient"

func withClient(ctx context.Context, client *redmine.Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

func getClient(ctx context.Context) *redmine.Client {
	return ctx.Value(clientContextKey).(*redmine.Client)
}

// authMiddleware builds a per-request Redmine client from the API key
// header. Requests without the header are rejected before any upstream
// traffic.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Redmine-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, string(redmine.KindConfig), "missing X-Redmine-API-Key header")
			return
		}

		client := redmine.NewClient(redmine.Config{
			BaseURL: s.config.RedmineURL,
			APIKey:  apiKey,
			Timeout: s.config.Timeout,
		})
		next.ServeHTTP(w, r.WithContext(withClient(r.Context(), client)))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":    kind,
			"message": message,
		},
	})
}

// writeClientError maps a redmine client error onto an HTTP status.
func writeClientError(w http.ResponseWriter, err error) {
	kind := redmine.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case redmine.KindConfig:
		status = http.StatusInternalServerError
	case redmine.KindNotFound:
		status = http.StatusNotFound
	case redmine.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, string(kind), err.Error())
}

// issueIDParam parses the {id} path parameter.
func issueIDParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("issue id must be a positive integer")
	}
	return id, nil
}

// issueFilterFromQuery builds an IssueFilter from query parameters.
func issueFilterFromQuery(r *http.Request) redmine.IssueFilter {
	q := r.URL.Query()
	filter := redmine.IssueFilter{
		ProjectID:    q.Get("project"),
		StatusID:     q.Get("status"),
		AssignedToID: q.Get("assigned_to"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = n
	}
	return filter
}

// @Summary List issues
// @Description Returns issues matching the optional filters
// @Tags Issues
// @Produce json
// @Security ApiKeyAuth
// @Param project query string false "Project identifier or numeric ID"
// @Param status query string false "Issue status: open, closed, or * for all" default(open)
// @Param assigned_to query string false "Assignee: 'me' or a numeric user ID"
// @Param limit query int false "Number of issues to return" default(25)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /issues [get]
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	issues, total, err := client.ListIssues(r.Context(), issueFilterFromQuery(r))
	if err != nil {
		writeClientError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"issues":      issues,
		"count":       len(issues),
		"total_count": total,
	})
}

// @Summary Get issue details
// @Description Returns one issue including description, journals, and attachment metadata
// @Tags Issues
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Issue ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /issues/{id} [get]
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := issueIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	client := getClient(r.Context())
	issue, err := client.GetIssue(r.Context(), id)
	if err != nil {
		writeClientError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

// @Summary List projects
// @Description Returns all projects visible to the API key, across all pages
// @Tags Projects
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Router /projects [get]
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	projects, err := client.ListAllProjects(r.Context())
	if err != nil {
		writeClientError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

// @Summary Download issue attachments
// @Description Downloads all attachments of an issue to a directory on the server host
// @Tags Issues
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Issue ID"
// @Param destination_dir query string false "Destination directory" default(./downloads)
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /issues/{id}/attachments/download [post]
func (s *Server) handleDownloadAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := issueIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	client := getClient(r.Context())
	report, err := client.DownloadIssueAttachments(r.Context(), id, r.URL.Query().Get("destination_dir"))
	if err != nil && redmine.KindOf(err) != redmine.KindPartialDownload {
		writeClientError(w, err)
		return
	}

	result := map[string]any{
		"issue_id":     report.IssueID,
		"directory":    report.Dir,
		"saved":        report.Saved,
		"saved_count":  len(report.Saved),
		"failed":       report.Failed,
		"failed_count": len(report.Failed),
	}
	if err != nil {
		result["error"] = map[string]any{
			"kind":    string(redmine.KindPartialDownload),
			"message": err.Error(),
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// @Summary Export issues as XLSX
// @Description Returns issues matching the filters as an Excel workbook
// @Tags Issues
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security ApiKeyAuth
// @Param project query string false "Project identifier or numeric ID"
// @Param status query string false "Issue status: open, closed, or * for all" default(open)
// @Success 200 {file} binary
// @Failure 502 {object} map[string]any
// @Router /issues/export [get]
func (s *Server) handleExportIssues(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	filter := issueFilterFromQuery(r)
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	issues, _, err := client.ListIssues(r.Context(), filter)
	if err != nil {
		writeClientError(w, err)
		return
	}

	data, err := redmine.ExportIssuesXLSX(issues)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="issues.xlsx"`)
	_, _ = w.Write(data)
}
