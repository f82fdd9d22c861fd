package controller

import (
	"context"
	"encoding/json"
	"errors"
	"espdesk/internal/cache"
	"espdesk/internal/database"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"espdesk/pkg/esp"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// checkAllConcurrency bounds the provider calls of CheckAll
const checkAllConcurrency = 4

// AccountController manages stored provider accounts
type AccountController interface {
	List(ctx context.Context) ([]model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
	Create(ctx context.Context, account *model.Account) error
	Update(ctx context.Context, id string, account *model.Account) (*model.Account, error)
	Delete(ctx context.Context, id string) error

	// CheckStatus calls the provider with the account's credentials
	CheckStatus(ctx context.Context, id string) (*model.AccountStatus, error)

	// CheckAll checks every stored account
	CheckAll(ctx context.Context) ([]model.AccountStatus, error)
}

type accountController struct {
	db       database.AccountDatabase
	accounts orchestrator.AccountSource
	gateways *orchestrator.GatewayRegistry
	imports  *orchestrator.ImportRegistry
	cache    cache.Cache
	now      func() time.Time
}

// NewAccountController builds the controller. cache may be nil.
func NewAccountController(db database.AccountDatabase, gateways *orchestrator.GatewayRegistry, imports *orchestrator.ImportRegistry, c cache.Cache) AccountController {
	return &accountController{
		db:       db,
		accounts: NewAccountSource(db),
		gateways: gateways,
		imports:  imports,
		cache:    c,
		now:      time.Now,
	}
}

func (ac *accountController) List(ctx context.Context) ([]model.Account, error) {
	return ac.db.ListAccounts(ctx)
}

func (ac *accountController) Get(ctx context.Context, id string) (*model.Account, error) {
	return ac.accounts.GetAccount(ctx, id)
}

func (ac *accountController) Create(ctx context.Context, account *model.Account) error {
	account.ID = ""
	if err := validateAccount(account); err != nil {
		return err
	}

	if err := ac.db.CreateAccount(ctx, account); err != nil {
		return translate(err)
	}

	log.Info().
		Str("accountId", account.ID).
		Str("provider", string(account.Provider)).
		Msg("Account created")
	return nil
}

func (ac *accountController) Update(ctx context.Context, id string, account *model.Account) (*model.Account, error) {
	existing, err := ac.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	account.ID = id
	if err := validateAccount(account); err != nil {
		return nil, err
	}

	if err := ac.db.UpdateAccount(ctx, account); err != nil {
		return nil, translate(err)
	}

	ac.forgetCached(ctx, existing)

	log.Info().Str("accountId", id).Msg("Account updated")
	return ac.accounts.GetAccount(ctx, id)
}

// Delete refuses while an import for the account is active or starting.
// The account's import slot is held until the record is gone.
func (ac *accountController) Delete(ctx context.Context, id string) error {
	existing, err := ac.accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	err = ac.imports.WithAccountLocked(id, func() error {
		return translate(ac.db.DeleteAccount(ctx, id))
	})
	if err != nil {
		return err
	}

	ac.forgetCached(ctx, existing)

	log.Info().Str("accountId", id).Msg("Account deleted")
	return nil
}

// forgetCached drops the catalogues and tokens cached for an account
func (ac *accountController) forgetCached(ctx context.Context, account *model.Account) {
	if ac.cache == nil {
		return
	}

	if _, err := ac.cache.DeletePrefix(ctx, catalogKeyPrefix(account.ID)); err != nil {
		log.Warn().Err(err).Str("accountId", account.ID).Msg("Failed to drop cached catalogues")
	}
	if account.ClientID != "" {
		if err := ac.cache.Delete(ctx, "sendpulse:token:"+account.ClientID); err != nil {
			log.Warn().Err(err).Str("accountId", account.ID).Msg("Failed to drop cached token")
		}
	}
}

func (ac *accountController) CheckStatus(ctx context.Context, id string) (*model.AccountStatus, error) {
	account, err := ac.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return ac.checkAccount(ctx, account), nil
}

func (ac *accountController) CheckAll(ctx context.Context) ([]model.AccountStatus, error) {
	accounts, err := ac.db.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]model.AccountStatus, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkAllConcurrency)
	for i := range accounts {
		i := i
		g.Go(func() error {
			statuses[i] = *ac.checkAccount(gctx, &accounts[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("accounts", len(accounts)).Msg("Checked account statuses")
	return statuses, nil
}

// checkAccount never fails: provider problems are reported as a failed status
func (ac *accountController) checkAccount(ctx context.Context, account *model.Account) *model.AccountStatus {
	status := &model.AccountStatus{
		AccountID: account.ID,
		Name:      account.Name,
		Provider:  account.Provider,
		Status:    model.StatusFailed,
		CheckedAt: ac.now().UTC(),
	}

	gateway, ok := ac.gateways.Get(account.Provider)
	if !ok {
		status.Response = map[string]string{"error": fmt.Sprintf("no gateway for provider %q", account.Provider)}
		return status
	}

	cred, err := gateway.ResolveCredentials(ctx, *account)
	if err != nil {
		status.Response = errorResponse(err)
		return status
	}

	checker, ok := gateway.(esp.StatusChecker)
	if !ok {
		status.Status = model.StatusConnected
		return status
	}

	response, err := checker.CheckStatus(ctx, cred)
	if err != nil {
		log.Warn().Err(err).Str("accountId", account.ID).Msg("Account status check failed")
		status.Response = errorResponse(err)
		return status
	}

	status.Status = model.StatusConnected
	status.Response = response
	return status
}

// errorResponse exposes a provider's own error body when there is one
func errorResponse(err error) interface{} {
	var apiErr *esp.APIError
	if errors.As(err, &apiErr) && json.Valid(apiErr.Body) {
		return json.RawMessage(apiErr.Body)
	}
	return map[string]string{"error": err.Error()}
}

func validateAccount(account *model.Account) error {
	account.Name = strings.TrimSpace(account.Name)
	if account.Name == "" {
		return fmt.Errorf("%w: name is required", orchestrator.ErrValidation)
	}
	if !account.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", orchestrator.ErrValidation, account.Provider)
	}

	switch account.Provider {
	case model.ProviderSendX, model.ProviderGetResponse:
		if account.APIKey == "" {
			return fmt.Errorf("%w: api_key is required for %s", orchestrator.ErrValidation, account.Provider)
		}
	case model.ProviderSendPulse:
		if account.ClientID == "" || account.ClientSecret == "" {
			return fmt.Errorf("%w: client_id and client_secret are required for sendpulse", orchestrator.ErrValidation)
		}
	case model.ProviderMagicLink:
		if account.SecretKey == "" {
			return fmt.Errorf("%w: secret_key is required for magiclink", orchestrator.ErrValidation)
		}
	}
	return nil
}
