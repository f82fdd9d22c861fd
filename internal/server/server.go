package server

import (
	"espdesk/internal/config"
	"espdesk/internal/controller"
	"fmt"
	"net/http"
	"time"
)

type Server struct {
	sc     controller.ServerController
	ac     controller.AccountController
	pc     controller.ProviderController
	jc     controller.JobController
	config config.Config
}

func New(config config.Config, sc controller.ServerController, ac controller.AccountController, pc controller.ProviderController, jc controller.JobController) *Server {
	return &Server{
		sc:     sc,
		ac:     ac,
		pc:     pc,
		jc:     jc,
		config: config,
	}
}

// HTTPServer wraps the routes in an http.Server listening on the configured port
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%v", s.config.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}
