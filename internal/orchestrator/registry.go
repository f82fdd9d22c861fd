package orchestrator

import (
	"context"
	"encoding/json"
	"espdesk/internal/model"
	"espdesk/pkg/esp"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Gateway is the provider boundary the job runners drive. Every call
// receives the credential it needs; gateways keep no job state.
type Gateway interface {
	ResolveCredentials(ctx context.Context, account model.Account) (esp.Credential, error)
	SendContact(ctx context.Context, cred esp.Credential, contact model.Contact, listID string) (json.RawMessage, error)
	GetSubscriberCount(ctx context.Context, cred esp.Credential, listID string) (int, error)
	ListSubscriberPage(ctx context.Context, cred esp.Credential, listID string, limit, offset int) ([]string, error)
	DeleteSubscribers(ctx context.Context, cred esp.Credential, listID string, addresses []string) error
}

// AccountSource looks up stored accounts. A missing account must be
// reported with an error wrapping ErrNotFound.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
}

// GatewayRegistry maps providers to their gateway
type GatewayRegistry struct {
	gateways map[model.Provider]Gateway
	mu       sync.RWMutex
}

func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{
		gateways: make(map[model.Provider]Gateway),
	}
}

// Register adds a gateway to the registry
func (r *GatewayRegistry) Register(provider model.Provider, gateway Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[provider] = gateway

	log.Info().
		Str("provider", string(provider)).
		Str("gateway", fmt.Sprintf("%T", gateway)).
		Msg("Registered provider gateway")
}

// Get retrieves the gateway of a provider
func (r *GatewayRegistry) Get(provider model.Provider) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gateway, exists := r.gateways[provider]
	return gateway, exists
}

// AvailableProviders returns the registered providers in a stable order
func (r *GatewayRegistry) AvailableProviders() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]model.Provider, 0, len(r.gateways))
	for provider := range r.gateways {
		providers = append(providers, provider)
	}

	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// Resolve loads the account and resolves its credentials through the
// provider gateway.
func Resolve(ctx context.Context, accounts AccountSource, gateways *GatewayRegistry, accountID string) (*model.Account, Gateway, esp.Credential, error) {
	account, err := accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, esp.Credential{}, err
	}

	gateway, ok := gateways.Get(account.Provider)
	if !ok {
		return nil, nil, esp.Credential{}, fmt.Errorf("%w: no gateway for provider %q", ErrAuthentication, account.Provider)
	}

	cred, err := gateway.ResolveCredentials(ctx, *account)
	if err != nil {
		return nil, nil, esp.Credential{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	return account, gateway, cred, nil
}
