package server

import (
	"espdesk/internal/model"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContactRequest adds one contact to a list
type ContactRequest struct {
	ListID    string `json:"list_id"`
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ForgetRequest names the subscriber to remove
type ForgetRequest struct {
	Email string `json:"email" binding:"required"`
}

// SenderRequest names a sender address. Deletion accepts the provider id
// instead of the email.
type SenderRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) listsHandler(c *gin.Context) {
	lists, err := s.pc.Lists(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, lists)
}

func (s *Server) sendersHandler(c *gin.Context) {
	senders, err := s.pc.Senders(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, senders)
}

func (s *Server) templatesHandler(c *gin.Context) {
	templates, err := s.pc.Templates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, templates)
}

func (s *Server) automationsHandler(c *gin.Context) {
	automations, err := s.pc.Automations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, automations)
}

func (s *Server) automationStatsHandler(c *gin.Context) {
	stats, err := s.pc.AutomationStats(c.Request.Context(), c.Param("id"), c.Param("automationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) actionSubscribersHandler(c *gin.Context) {
	subscribers, err := s.pc.ActionSubscribers(c.Request.Context(), c.Param("id"), c.Param("automationId"), c.Query("filter"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscribers)
}

func (s *Server) templateHandler(c *gin.Context) {
	template, err := s.pc.Template(c.Request.Context(), c.Param("id"), c.Param("templateId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, template)
}

func (s *Server) updateTemplateHandler(c *gin.Context) {
	var template model.TemplateDetail
	if err := c.ShouldBindJSON(&template); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if err := s.pc.UpdateTemplate(c.Request.Context(), c.Param("id"), c.Param("templateId"), template); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "id": c.Param("templateId")})
}

func (s *Server) addSenderHandler(c *gin.Context) {
	var req SenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	payload, err := s.pc.AddSender(c.Request.Context(), c.Param("id"), model.Sender{Name: req.Name, Email: req.Email})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "response": payload})
}

func (s *Server) deleteSenderHandler(c *gin.Context) {
	var req SenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	sender := model.Sender{ID: req.ID, Email: req.Email}
	if err := s.pc.DeleteSender(c.Request.Context(), c.Param("id"), sender); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) addContactHandler(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	contact := model.Contact{Email: req.Email, FirstName: req.FirstName, LastName: req.LastName}
	payload, err := s.pc.AddContact(c.Request.Context(), c.Param("id"), req.ListID, contact)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "response": payload})
}

func (s *Server) forgetSubscriberHandler(c *gin.Context) {
	var req ForgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if err := s.pc.ForgetSubscriber(c.Request.Context(), c.Param("id"), c.Param("listId"), req.Email); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "email": req.Email})
}
