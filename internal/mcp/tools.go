package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ycho/redmine-reader-mcp/internal/redmine"
)

// ToolHandlers contains all MCP tool handlers
type ToolHandlers struct {
	client *redmine.Client
}

// NewToolHandlers creates new tool handlers
func NewToolHandlers(client *redmine.Client) *ToolHandlers {
	return &ToolHandlers{client: client}
}

// McpServer interface for registering tools
type McpServer interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// RegisterTools registers all MCP tools on the server
func (h *ToolHandlers) RegisterTools(s McpServer) {
	s.AddTool(mcp.NewTool("get_issues",
		mcp.WithDescription("Fetch issues from Redmine with optional filters"),
		mcp.WithString("project",
			mcp.Description("Project identifier or numeric ID"),
		),
		mcp.WithString("status",
			mcp.Description("Issue status: open, closed, or * for all (default: open)"),
			mcp.Enum("open", "closed", "*"),
		),
		mcp.WithString("assigned_to",
			mcp.Description("Assignee: 'me' for the API key owner or a numeric user ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of issues to return (default: 25, max: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Offset for pagination (default: 0)"),
		),
	), h.handleGetIssues)

	s.AddTool(mcp.NewTool("get_issue_details",
		mcp.WithDescription("Fetch details of a specific issue by ID, including description, journals, and attachment metadata"),
		mcp.WithNumber("issue_id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
	), h.handleGetIssueDetails)

	s.AddTool(mcp.NewTool("get_projects",
		mcp.WithDescription("List all projects visible to the API key"),
	), h.handleGetProjects)

	s.AddTool(mcp.NewTool("download_issue_attachments",
		mcp.WithDescription("Download all attachments of an issue to a local directory"),
		mcp.WithNumber("issue_id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
		mcp.WithString("destination_dir",
			mcp.Description("Directory where attachments are saved (default: ./downloads)"),
		),
	), h.handleDownloadIssueAttachments)
}

// Handler implementations

func (h *ToolHandlers) handleGetIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := redmine.IssueFilter{
		ProjectID: req.GetString("project", ""),
		StatusID:  req.GetString("status", ""),
		Limit:     req.GetInt("limit", 25),
		Offset:    req.GetInt("offset", 0),
	}

	if assignedTo := req.GetString("assigned_to", ""); assignedTo != "" {
		if assignedTo != "me" {
			if _, err := strconv.Atoi(assignedTo); err != nil {
				return mcp.NewToolResultError("assigned_to must be 'me' or a numeric user ID"), nil
			}
		}
		filter.AssignedToID = assignedTo
	}

	issues, total, err := h.client.ListIssues(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}

	result := make([]map[string]any, len(issues))
	for i, issue := range issues {
		result[i] = formatIssue(issue)
	}

	return jsonResult(map[string]any{
		"issues":      result,
		"count":       len(issues),
		"total_count": total,
	})
}

func (h *ToolHandlers) handleGetIssueDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := requireIssueID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	issue, err := h.client.GetIssue(ctx, issueID)
	if err != nil {
		return toolError(err), nil
	}

	return jsonResult(formatIssueDetail(*issue))
}

func (h *ToolHandlers) handleGetProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := h.client.ListAllProjects(ctx)
	if err != nil {
		return toolError(err), nil
	}

	result := make([]map[string]any, len(projects))
	for i, p := range projects {
		result[i] = map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"identifier":  p.Identifier,
			"description": p.Description,
		}
		if p.Parent != nil {
			result[i]["parent"] = map[string]any{
				"id":   p.Parent.ID,
				"name": p.Parent.Name,
			}
		}
	}

	return jsonResult(map[string]any{
		"projects": result,
		"count":    len(projects),
	})
}

func (h *ToolHandlers) handleDownloadIssueAttachments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := requireIssueID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	destDir := req.GetString("destination_dir", "")

	report, err := h.client.DownloadIssueAttachments(ctx, issueID, destDir)
	if err != nil && redmine.KindOf(err) != redmine.KindPartialDownload {
		return toolError(err), nil
	}

	result := map[string]any{
		"issue_id":     report.IssueID,
		"directory":    report.Dir,
		"saved":        report.Saved,
		"saved_count":  len(report.Saved),
		"failed":       report.Failed,
		"failed_count": len(report.Failed),
	}
	// A partial failure still returns the saved paths; the error object
	// rides along so the caller sees both.
	if err != nil {
		result["error"] = errorObject(err)
	}

	return jsonResult(result)
}

// requireIssueID extracts and validates the issue_id argument.
func requireIssueID(req mcp.CallToolRequest) (int, error) {
	idFloat, err := req.RequireFloat("issue_id")
	if err != nil {
		return 0, err
	}
	issueID := int(idFloat)
	if issueID <= 0 {
		return 0, fmt.Errorf("issue_id must be a positive integer, got %d", issueID)
	}
	return issueID, nil
}

func formatIssue(issue redmine.Issue) map[string]any {
	result := map[string]any{
		"id":      issue.ID,
		"subject": issue.Subject,
		"project": map[string]any{
			"id":   issue.Project.ID,
			"name": issue.Project.Name,
		},
		"tracker": map[string]any{
			"id":   issue.Tracker.ID,
			"name": issue.Tracker.Name,
		},
		"status": map[string]any{
			"id":   issue.Status.ID,
			"name": issue.Status.Name,
		},
		"priority": map[string]any{
			"id":   issue.Priority.ID,
			"name": issue.Priority.Name,
		},
		"author": map[string]any{
			"id":   issue.Author.ID,
			"name": issue.Author.Name,
		},
		"created_on": issue.CreatedOn,
		"updated_on": issue.UpdatedOn,
	}

	if issue.AssignedTo != nil {
		result["assigned_to"] = map[string]any{
			"id":   issue.AssignedTo.ID,
			"name": issue.AssignedTo.Name,
		}
	}

	return result
}

func formatIssueDetail(issue redmine.Issue) map[string]any {
	result := formatIssue(issue)
	result["description"] = issue.Description
	result["done_ratio"] = issue.DoneRatio

	if issue.StartDate != "" {
		result["start_date"] = issue.StartDate
	}
	if issue.DueDate != "" {
		result["due_date"] = issue.DueDate
	}
	if issue.ClosedOn != "" {
		result["closed_on"] = issue.ClosedOn
	}

	if len(issue.Attachments) > 0 {
		attachments := make([]map[string]any, len(issue.Attachments))
		for i, a := range issue.Attachments {
			attachments[i] = map[string]any{
				"id":           a.ID,
				"filename":     a.Filename,
				"filesize":     a.Filesize,
				"content_type": a.ContentType,
				"content_url":  a.ContentURL,
				"created_on":   a.CreatedOn,
			}
		}
		result["attachments"] = attachments
	}

	if len(issue.Journals) > 0 {
		journals := make([]map[string]any, len(issue.Journals))
		for i, j := range issue.Journals {
			journals[i] = map[string]any{
				"id":         j.ID,
				"user":       j.User.Name,
				"notes":      j.Notes,
				"created_on": j.CreatedOn,
			}
		}
		result["journals"] = journals
	}

	return result
}

// errorObject shapes an error as the {kind, message} structure tool
// callers receive.
func errorObject(err error) map[string]any {
	return map[string]any{
		"kind":    string(redmine.KindOf(err)),
		"message": err.Error(),
	}
}

// toolError converts a client error into a structured error result.
// Handler errors never propagate as protocol failures; the server keeps
// serving subsequent calls.
func toolError(err error) *mcp.CallToolResult {
	data, merr := json.Marshal(errorObject(err))
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func jsonResult(data any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
