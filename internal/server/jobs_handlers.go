package server

import (
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ExportRequest selects which results an export contains
type ExportRequest struct {
	Filter string `json:"filter"`
}

// DeletionRequest starts a delete-all job
type DeletionRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	ListID    string `json:"list_id" binding:"required"`
}

// ImportSummary is the list view of an import job, without per-contact results
type ImportSummary struct {
	ID             string                `json:"id"`
	AccountID      string                `json:"account_id"`
	ListID         string                `json:"list_id"`
	ListName       string                `json:"list_name"`
	Status         model.ImportJobStatus `json:"status"`
	Progress       float64               `json:"progress"`
	TotalContacts  int                   `json:"total_contacts"`
	SuccessCount   int                   `json:"success_count"`
	FailureCount   int                   `json:"failure_count"`
	ElapsedSeconds int                   `json:"elapsed_seconds"`
	CreatedAt      string                `json:"created_at"`
}

func (s *Server) startImportHandler(c *gin.Context) {
	var req orchestrator.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	// the job outlives this request
	job, err := s.jc.StartImport(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listImportsHandler(c *gin.Context) {
	jobs := s.jc.ListImports()

	response := make([]ImportSummary, 0, len(jobs))
	for i := range jobs {
		response = append(response, convertImportToSummary(&jobs[i]))
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) getImportHandler(c *gin.Context) {
	job, err := s.jc.GetImport(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) activeImportHandler(c *gin.Context) {
	job, err := s.jc.ActiveImport(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) removeImportHandler(c *gin.Context) {
	if err := s.jc.RemoveImport(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) pauseImportHandler(c *gin.Context) {
	job, err := s.jc.PauseImport(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) resumeImportHandler(c *gin.Context) {
	job, err := s.jc.ResumeImport(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelImportHandler(c *gin.Context) {
	job, err := s.jc.CancelImport(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) exportImportHandler(c *gin.Context) {
	var req ExportRequest
	// an empty body exports everything
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
			return
		}
	}
	if filter := c.Query("filter"); filter != "" {
		req.Filter = filter
	}

	url, err := s.jc.ExportImport(c.Request.Context(), c.Param("id"), req.Filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (s *Server) listExportsHandler(c *gin.Context) {
	files, err := s.jc.ListExports(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, files)
}

func (s *Server) startDeletionHandler(c *gin.Context) {
	var req DeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	job, err := s.jc.StartDeleteAll(c.Request.Context(), req.AccountID, req.ListID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "status": job.Status})
}

func (s *Server) getDeletionHandler(c *gin.Context) {
	job, err := s.jc.GetDeletion(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// convertImportToSummary converts a job snapshot to its list view
func convertImportToSummary(job *model.ImportJob) ImportSummary {
	return ImportSummary{
		ID:             job.ID,
		AccountID:      job.AccountID,
		ListID:         job.ListID,
		ListName:       job.ListName,
		Status:         job.Status,
		Progress:       job.Progress,
		TotalContacts:  job.TotalContacts,
		SuccessCount:   job.SuccessCount(),
		FailureCount:   job.FailureCount(),
		ElapsedSeconds: job.ElapsedSeconds,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}
}
