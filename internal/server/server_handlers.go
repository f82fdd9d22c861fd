package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	components, ok := s.sc.Health(c.Request.Context())

	if !ok {
		c.JSON(http.StatusServiceUnavailable, components)
		return
	}

	c.JSON(http.StatusOK, components)
}

func (s *Server) onlineHandler(c *gin.Context) {
	online := s.sc.Online()

	c.String(http.StatusOK, online)
}
