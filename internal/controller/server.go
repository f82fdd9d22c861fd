package controller

import (
	"context"
	"espdesk/internal/aws"
	"espdesk/internal/cache"
	"espdesk/internal/database"
	"espdesk/internal/rabbitmq"
	"time"
)

// Component health values
const (
	HealthUp       = "up"
	HealthDown     = "down"
	HealthDisabled = "disabled"
)

type ServerController interface {
	// Health reports every component; ok is false when a required one is down
	Health(ctx context.Context) (components map[string]string, ok bool)
	Online() string
}

type serverController struct {
	db          database.AccountDatabase
	cache       cache.Cache
	rabbit      rabbitmq.Client
	fileService aws.FileService
}

// NewServer builds the server controller. Optional components may be nil.
func NewServer(db database.AccountDatabase, c cache.Cache, rabbit rabbitmq.Client, fileService aws.FileService) ServerController {
	return &serverController{
		db:          db,
		cache:       c,
		rabbit:      rabbit,
		fileService: fileService,
	}
}

func (sc *serverController) Online() string {
	return "Online"
}

func (sc *serverController) Health(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	components := map[string]string{
		"database":     status(sc.db.Health()),
		"cache":        HealthDisabled,
		"rabbit":       HealthDisabled,
		"file_service": HealthDisabled,
	}

	if sc.cache != nil {
		components["cache"] = status(sc.cache.Ping(ctx))
	}
	if sc.rabbit != nil {
		components["rabbit"] = status(sc.rabbit.Health())
	}
	if sc.fileService != nil {
		components["file_service"] = status(sc.fileService.TestConnection(ctx))
	}

	return components, components["database"] == HealthUp
}

func status(err error) string {
	if err != nil {
		return HealthDown
	}
	return HealthUp
}
