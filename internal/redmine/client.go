package redmine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	downloadTimeout = 120 * time.Second

	// Redmine caps list endpoints at 100 items per page.
	pageLimit = 100
)

// Config holds the Redmine connection settings. It is built once at
// startup and passed into NewClient; client code never reads the
// environment directly.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Validate checks that the config is usable for API calls.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return newError(KindConfig, "redmine base URL is not configured")
	}
	if c.APIKey == "" {
		return newError(KindConfig, "redmine API key is not configured")
	}
	return nil
}

// Client is a read-only Redmine API client.
type Client struct {
	config  Config
	baseURL string

	httpClient *http.Client
	// Attachment bodies can be large, so downloads get a longer deadline
	// than the JSON endpoints.
	downloadClient *http.Client
}

// NewClient creates a new Redmine client from the given config.
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config:         config,
		baseURL:        strings.TrimSuffix(config.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
}

// get performs a GET request against the Redmine API and returns the
// response body. The config is validated before any network traffic.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, wrapError(KindUpstream, err, "failed to create request")
	}

	req.Header.Set("X-Redmine-API-Key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, wrapError(KindTimeout, err, "request to %s timed out", path)
		}
		return nil, wrapError(KindUpstream, err, "request to %s failed", path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindUpstream, err, "failed to read response from %s", path)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, newError(KindNotFound, "resource not found: %s", path)
	}
	if resp.StatusCode >= 400 {
		return nil, newError(KindUpstream, "API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IDName represents a simple id/name pair
type IDName struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Project represents a Redmine project
type Project struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Identifier  string  `json:"identifier"`
	Description string  `json:"description"`
	Status      int     `json:"status"`
	Parent      *IDName `json:"parent,omitempty"`
	CreatedOn   string  `json:"created_on,omitempty"`
}

// Attachment represents a file attached to an issue
type Attachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	ContentType string `json:"content_type"`
	Description string `json:"description,omitempty"`
	ContentURL  string `json:"content_url"`
	Author      IDName `json:"author"`
	CreatedOn   string `json:"created_on"`
}

// Journal represents an issue journal entry (comment/change)
type Journal struct {
	ID        int    `json:"id"`
	User      IDName `json:"user"`
	Notes     string `json:"notes"`
	CreatedOn string `json:"created_on"`
}

// Issue represents a Redmine issue
type Issue struct {
	ID          int          `json:"id"`
	Project     IDName       `json:"project"`
	Tracker     IDName       `json:"tracker"`
	Status      IDName       `json:"status"`
	Priority    IDName       `json:"priority"`
	Author      IDName       `json:"author"`
	AssignedTo  *IDName      `json:"assigned_to,omitempty"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	StartDate   string       `json:"start_date,omitempty"`
	DueDate     string       `json:"due_date,omitempty"`
	DoneRatio   int          `json:"done_ratio"`
	CreatedOn   string       `json:"created_on"`
	UpdatedOn   string       `json:"updated_on"`
	ClosedOn    string       `json:"closed_on,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Journals    []Journal    `json:"journals,omitempty"`
}

// IssuesResponse is the response from /issues.json
type IssuesResponse struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}

// ProjectsResponse is the response from /projects.json
type ProjectsResponse struct {
	Projects   []Project `json:"projects"`
	TotalCount int       `json:"total_count"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

// IssueFilter holds the optional filters for listing issues.
type IssueFilter struct {
	ProjectID    string // project identifier or numeric ID
	StatusID     string // "open", "closed", "*", or a specific status ID
	AssignedToID string // "me" or a numeric user ID
	Limit        int
	Offset       int
}

// ListIssues returns issues matching the filter plus the upstream total count.
func (c *Client) ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, int, error) {
	query := url.Values{}

	if filter.ProjectID != "" {
		query.Set("project_id", filter.ProjectID)
	}
	if filter.StatusID != "" {
		query.Set("status_id", filter.StatusID)
	} else {
		query.Set("status_id", "open")
	}
	if filter.AssignedToID != "" {
		query.Set("assigned_to_id", filter.AssignedToID)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(min(filter.Limit, pageLimit)))
	} else {
		query.Set("limit", "25")
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	data, err := c.get(ctx, "/issues.json?"+query.Encode())
	if err != nil {
		return nil, 0, err
	}

	var resp IssuesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, wrapError(KindUpstream, err, "failed to parse issues response")
	}

	return resp.Issues, resp.TotalCount, nil
}

// GetIssue returns an issue by ID including attachments and journals.
func (c *Client) GetIssue(ctx context.Context, issueID int) (*Issue, error) {
	path := fmt.Sprintf("/issues/%d.json?include=attachments,journals", issueID)
	data, err := c.get(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			return nil, newError(KindNotFound, "issue #%d not found", issueID)
		}
		return nil, err
	}

	var resp struct {
		Issue Issue `json:"issue"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, wrapError(KindUpstream, err, "failed to parse issue response")
	}

	return &resp.Issue, nil
}

// ListAllProjects returns every project visible to the API key, following
// pagination until the upstream total is reached. Duplicate project IDs
// across pages are dropped.
func (c *Client) ListAllProjects(ctx context.Context) ([]Project, error) {
	var all []Project
	seen := make(map[int]bool)
	offset := 0

	for {
		path := fmt.Sprintf("/projects.json?limit=%d&offset=%d", pageLimit, offset)
		data, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}

		var resp ProjectsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, wrapError(KindUpstream, err, "failed to parse projects response")
		}

		if len(resp.Projects) == 0 {
			break
		}

		for _, p := range resp.Projects {
			if !seen[p.ID] {
				seen[p.ID] = true
				all = append(all, p)
			}
		}

		offset += len(resp.Projects)
		if offset >= resp.TotalCount {
			break
		}
	}

	return all, nil
}

// DownloadAttachment streams the attachment at contentURL into w and
// returns the number of bytes written.
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string, w io.Writer) (int64, error) {
	if err := c.config.Validate(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return 0, wrapError(KindUpstream, err, "failed to create download request")
	}
	req.Header.Set("X-Redmine-API-Key", c.config.APIKey)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, wrapError(KindTimeout, err, "download of %s timed out", contentURL)
		}
		return 0, wrapError(KindUpstream, err, "download of %s failed", contentURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, newError(KindNotFound, "attachment not found: %s", contentURL)
	}
	if resp.StatusCode >= 400 {
		return 0, newError(KindUpstream, "download failed (status %d): %s", resp.StatusCode, contentURL)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, wrapError(KindUpstream, err, "failed to read attachment body")
	}
	return n, nil
}
