package redmine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultDownloadDir is used when the caller does not specify a
// destination directory.
const DefaultDownloadDir = "./downloads"

// DownloadFailure describes one attachment that could not be saved.
type DownloadFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// DownloadReport summarizes a batch attachment download.
type DownloadReport struct {
	IssueID int               `json:"issue_id"`
	Dir     string            `json:"directory"`
	Saved   []string          `json:"saved"`
	Failed  []DownloadFailure `json:"failed,omitempty"`
}

// DownloadIssueAttachments downloads every attachment of an issue into
// <destDir>/issue_<id>/. A failing attachment is recorded and skipped,
// never aborting the rest of the batch. When at least one attachment
// fails the returned error has kind partial_download; the report is
// valid either way.
func (c *Client) DownloadIssueAttachments(ctx context.Context, issueID int, destDir string) (*DownloadReport, error) {
	if destDir == "" {
		destDir = DefaultDownloadDir
	}
	absDir, err := filepath.Abs(destDir)
	if err != nil {
		return nil, wrapError(KindUpstream, err, "failed to resolve destination directory")
	}

	issue, err := c.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	report := &DownloadReport{
		IssueID: issueID,
		Dir:     filepath.Join(absDir, fmt.Sprintf("issue_%d", issueID)),
		Saved:   []string{},
	}

	if len(issue.Attachments) == 0 {
		return report, nil
	}

	if err := os.MkdirAll(report.Dir, 0o755); err != nil {
		return nil, wrapError(KindUpstream, err, "failed to create directory %s", report.Dir)
	}

	slog.Info("downloading issue attachments",
		"issue_id", issueID,
		"count", len(issue.Attachments),
		"dir", report.Dir,
	)

	for _, att := range issue.Attachments {
		if att.ContentURL == "" {
			report.Failed = append(report.Failed, DownloadFailure{
				Filename: att.Filename,
				Reason:   "no download URL available",
			})
			continue
		}

		path, err := c.downloadOne(ctx, att, report.Dir)
		if err != nil {
			slog.Warn("attachment download failed",
				"issue_id", issueID,
				"filename", att.Filename,
				"error", err,
			)
			report.Failed = append(report.Failed, DownloadFailure{
				Filename: att.Filename,
				Reason:   err.Error(),
			})
			continue
		}
		report.Saved = append(report.Saved, path)
	}

	if len(report.Failed) > 0 {
		return report, newError(KindPartialDownload,
			"downloaded %d of %d attachments from issue #%d",
			len(report.Saved), len(issue.Attachments), issueID)
	}
	return report, nil
}

// downloadOne writes a single attachment to dir and returns the file path.
// A partially written file is removed on failure.
func (c *Client) downloadOne(ctx context.Context, att Attachment, dir string) (string, error) {
	// filepath.Base strips any path components an upstream filename
	// might carry, keeping writes inside dir.
	name := filepath.Base(att.Filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid attachment filename %q", att.Filename)
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := c.DownloadAttachment(ctx, att.ContentURL, f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	slog.Debug("attachment saved", "path", path, "bytes", n)
	return path, nil
}
