package controller

import (
	"context"
	"errors"
	"espdesk/internal/database"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"fmt"
)

type accountSource struct {
	db database.AccountDatabase
}

// NewAccountSource exposes the account store to the job registries,
// reporting missing accounts as orchestrator.ErrNotFound.
func NewAccountSource(db database.AccountDatabase) orchestrator.AccountSource {
	return &accountSource{db: db}
}

func (s *accountSource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.db.GetAccount(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

// translate maps store errors onto the orchestrator taxonomy
func translate(err error) error {
	switch {
	case errors.Is(err, database.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", orchestrator.ErrNotFound, err)
	case errors.Is(err, database.ErrDuplicateAccount):
		return fmt.Errorf("%w: %w", orchestrator.ErrConflict, err)
	default:
		return err
	}
}
