package server

import (
	"espdesk/internal/model"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listAccountsHandler(c *gin.Context) {
	accounts, err := s.ac.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, accounts)
}

func (s *Server) getAccountHandler(c *gin.Context) {
	account, err := s.ac.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (s *Server) createAccountHandler(c *gin.Context) {
	var account model.Account
	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if err := s.ac.Create(c.Request.Context(), &account); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (s *Server) updateAccountHandler(c *gin.Context) {
	var account model.Account
	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	updated, err := s.ac.Update(c.Request.Context(), c.Param("id"), &account)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteAccountHandler(c *gin.Context) {
	if err := s.ac.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) checkAccountHandler(c *gin.Context) {
	status, err := s.ac.CheckStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) checkAllAccountsHandler(c *gin.Context) {
	statuses, err := s.ac.CheckAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, statuses)
}
