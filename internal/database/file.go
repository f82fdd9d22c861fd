package database

import (
	"context"
	"encoding/json"
	"errors"
	"espdesk/internal/model"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// fileStore keeps accounts in a single JSON document. Every mutation reads
// the file, applies the change and atomically replaces the file.
type fileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (AccountDatabase, error) {
	if path == "" {
		return nil, fmt.Errorf("accounts file path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating accounts directory: %w", err)
	}

	log.Info().Str("path", path).Msg("Using file account store")

	return &fileStore{path: path}, nil
}

func (f *fileStore) Health() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.load()
	if err != nil {
		log.Error().Err(err).Str("path", f.path).Msg("Account store health error")
	}
	return err
}

// load must be called with mu held. A missing file is an empty store.
func (f *fileStore) load() ([]model.Account, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading accounts file: %w", err)
	}

	var accounts []model.Account
	if len(data) == 0 {
		return []model.Account{}, nil
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("error parsing accounts file: %w", err)
	}
	return accounts, nil
}

// save must be called with mu held
func (f *fileStore) save(accounts []model.Account) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding accounts: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing accounts: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("error replacing accounts file: %w", err)
	}
	return nil
}

func (f *fileStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.load()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (f *fileStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.load()
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func (f *fileStore) CreateAccount(ctx context.Context, account *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.load()
	if err != nil {
		return err
	}

	for _, existing := range accounts {
		if existing.Name == account.Name {
			log.Error().Str("name", account.Name).Msg("Duplicate account detected")
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, account.Name)
		}
	}

	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = newAccountID()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	return f.save(append(accounts, *account))
}

func (f *fileStore) UpdateAccount(ctx context.Context, account *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.load()
	if err != nil {
		return err
	}

	index := -1
	for i, existing := range accounts {
		if existing.ID == account.ID {
			index = i
		} else if existing.Name == account.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, account.Name)
		}
	}
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}

	account.CreatedAt = accounts[index].CreatedAt
	account.UpdatedAt = time.Now().UTC()
	accounts[index] = *account

	return f.save(accounts)
}

func (f *fileStore) DeleteAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.load()
	if err != nil {
		return err
	}

	for i, existing := range accounts {
		if existing.ID == id {
			return f.save(append(accounts[:i], accounts[i+1:]...))
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func (f *fileStore) Close(ctx context.Context) error {
	return nil
}
