package database

import (
	"context"
	"errors"
	"espdesk/internal/config"
	"espdesk/internal/model"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("duplicate account name")
)

// AccountDatabase stores provider accounts and their credentials
type AccountDatabase interface {
	Health() error
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	CreateAccount(ctx context.Context, account *model.Account) error
	UpdateAccount(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// New opens the account store selected by the configuration
func New(cfg *config.Config) (AccountDatabase, error) {
	switch cfg.Accounts.Backend {
	case config.AccountsBackendFile:
		return NewFileStore(cfg.Accounts.FilePath)
	case config.AccountsBackendMongo:
		return NewMongo(cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown accounts backend %q", cfg.Accounts.Backend)
	}
}

func newAccountID() string {
	return "acc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
