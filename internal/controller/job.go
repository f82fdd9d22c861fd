package controller

import (
	"bytes"
	"context"
	"encoding/csv"
	"espdesk/internal/aws"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"espdesk/pkg/esp"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Export filters
const (
	ExportAll     = "all"
	ExportSuccess = "success"
	ExportFailure = "failure"
)

// JobController handles import and deletion job operations
type JobController interface {
	StartImport(ctx context.Context, req orchestrator.ImportRequest) (*model.ImportJob, error)
	PauseImport(jobID string) (*model.ImportJob, error)
	ResumeImport(jobID string) (*model.ImportJob, error)
	CancelImport(jobID string) (*model.ImportJob, error)
	GetImport(jobID string) (*model.ImportJob, error)
	ListImports() []model.ImportJob
	ActiveImport(accountID string) (*model.ImportJob, error)
	RemoveImport(jobID string) error

	// ExportImport uploads the job results as CSV and returns the file URL
	ExportImport(ctx context.Context, jobID, filter string) (string, error)

	// ListExports returns the uploaded exports of a job
	ListExports(ctx context.Context, jobID string) ([]aws.StoredFile, error)

	StartDeleteAll(ctx context.Context, accountID, listID string) (*model.DeletionJob, error)
	GetDeletion(jobID string) (*model.DeletionJob, error)
}

type jobController struct {
	imports     *orchestrator.ImportRegistry
	deletions   *orchestrator.DeletionRunner
	fileService aws.FileService
	prefix      string
}

// NewJobController creates a new job controller. fileService is nil when
// exports are disabled.
func NewJobController(imports *orchestrator.ImportRegistry, deletions *orchestrator.DeletionRunner, fileService aws.FileService, prefix string) JobController {
	return &jobController{
		imports:     imports,
		deletions:   deletions,
		fileService: fileService,
		prefix:      prefix,
	}
}

func (c *jobController) StartImport(ctx context.Context, req orchestrator.ImportRequest) (*model.ImportJob, error) {
	return c.imports.StartImport(ctx, req)
}

func (c *jobController) PauseImport(jobID string) (*model.ImportJob, error) {
	return c.imports.Pause(jobID)
}

func (c *jobController) ResumeImport(jobID string) (*model.ImportJob, error) {
	return c.imports.Resume(jobID)
}

func (c *jobController) CancelImport(jobID string) (*model.ImportJob, error) {
	return c.imports.Cancel(jobID)
}

func (c *jobController) GetImport(jobID string) (*model.ImportJob, error) {
	return c.imports.Get(jobID)
}

func (c *jobController) ListImports() []model.ImportJob {
	return c.imports.List()
}

func (c *jobController) ActiveImport(accountID string) (*model.ImportJob, error) {
	job, ok := c.imports.ActiveForAccount(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: no active import for account %s", orchestrator.ErrNotFound, accountID)
	}
	return job, nil
}

func (c *jobController) RemoveImport(jobID string) error {
	return c.imports.Remove(jobID)
}

func (c *jobController) exportPrefix() string {
	return path.Join(c.prefix, "imports") + "/"
}

func (c *jobController) ExportImport(ctx context.Context, jobID, filter string) (string, error) {
	if c.fileService == nil {
		return "", fmt.Errorf("import export: %w", esp.ErrUnsupported)
	}
	if filter == "" {
		filter = ExportAll
	}
	if filter != ExportAll && filter != ExportSuccess && filter != ExportFailure {
		return "", fmt.Errorf("%w: unknown export filter %q", orchestrator.ErrValidation, filter)
	}

	job, err := c.imports.Get(jobID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := writeResultsCSV(&buf, job.Results, filter); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s%s-%s.csv", c.exportPrefix(), jobID, filter)
	url, err := c.fileService.UploadFile(ctx, key, &buf, "text/csv")
	if err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}

	log.Info().
		Str("jobId", jobID).
		Str("filter", filter).
		Str("key", key).
		Msg("Import results exported")

	return url, nil
}

func (c *jobController) ListExports(ctx context.Context, jobID string) ([]aws.StoredFile, error) {
	if c.fileService == nil {
		return nil, fmt.Errorf("import export: %w", esp.ErrUnsupported)
	}
	return c.fileService.ListFiles(ctx, c.exportPrefix()+jobID+"-")
}

// writeResultsCSV writes results in processing order. Snapshot results are
// most recent first.
func writeResultsCSV(w io.Writer, results []model.ImportResult, filter string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "email", "outcome", "payload"}); err != nil {
		return err
	}

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if filter != ExportAll && string(r.Outcome) != filter {
			continue
		}
		record := []string{strconv.Itoa(r.Index), r.Email, string(r.Outcome), string(r.Payload)}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func (c *jobController) StartDeleteAll(ctx context.Context, accountID, listID string) (*model.DeletionJob, error) {
	return c.deletions.StartDeleteAll(ctx, accountID, listID)
}

func (c *jobController) GetDeletion(jobID string) (*model.DeletionJob, error) {
	return c.deletions.GetStatus(jobID)
}
