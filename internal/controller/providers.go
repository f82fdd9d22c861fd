package controller

import (
	"context"
	"encoding/json"
	"espdesk/internal/cache"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"espdesk/pkg/esp"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ProviderController proxies catalogue reads and single-address operations
// to the provider of an account.
type ProviderController interface {
	Lists(ctx context.Context, accountID string) ([]model.List, error)
	Senders(ctx context.Context, accountID string) ([]model.Sender, error)
	Templates(ctx context.Context, accountID string) ([]model.Template, error)
	Automations(ctx context.Context, accountID string) ([]model.Automation, error)
	AutomationStats(ctx context.Context, accountID, automationID string) (*model.AutomationStats, error)

	// ActionSubscribers lists the recipients of an automation that match
	// filter; an empty filter means all of them
	ActionSubscribers(ctx context.Context, accountID, automationID, filter string) ([]model.ActionSubscriber, error)

	Template(ctx context.Context, accountID, templateID string) (*model.TemplateDetail, error)
	UpdateTemplate(ctx context.Context, accountID, templateID string, template model.TemplateDetail) error

	AddSender(ctx context.Context, accountID string, sender model.Sender) (json.RawMessage, error)
	DeleteSender(ctx context.Context, accountID string, sender model.Sender) error

	// AddContact sends one contact synchronously
	AddContact(ctx context.Context, accountID, listID string, contact model.Contact) (json.RawMessage, error)

	// ForgetSubscriber removes one address from a list
	ForgetSubscriber(ctx context.Context, accountID, listID, email string) error
}

type providerController struct {
	accounts orchestrator.AccountSource
	gateways *orchestrator.GatewayRegistry
	cache    cache.Cache
	ttl      time.Duration
}

// NewProviderController builds the controller. Catalogues are cached for ttl
// when c is not nil.
func NewProviderController(accounts orchestrator.AccountSource, gateways *orchestrator.GatewayRegistry, c cache.Cache, ttl time.Duration) ProviderController {
	return &providerController{
		accounts: accounts,
		gateways: gateways,
		cache:    c,
		ttl:      ttl,
	}
}

func catalogKeyPrefix(accountID string) string {
	return "catalog:" + accountID + ":"
}

// capability resolves the account and asserts the gateway offers C
func capability[C any](ctx context.Context, pc *providerController, accountID, what string) (C, esp.Credential, error) {
	var zero C

	account, gateway, cred, err := orchestrator.Resolve(ctx, pc.accounts, pc.gateways, accountID)
	if err != nil {
		return zero, esp.Credential{}, err
	}

	c, ok := gateway.(C)
	if !ok {
		return zero, esp.Credential{}, fmt.Errorf("%s for %s: %w", what, account.Provider, esp.ErrUnsupported)
	}
	return c, cred, nil
}

// cached serves key from the cache or stores what fetch returns
func cached[T any](ctx context.Context, pc *providerController, key string, fetch func() (T, error)) (T, error) {
	var value T

	if pc.cache != nil {
		if err := cache.GetJSON(ctx, pc.cache, key, &value); err == nil {
			return value, nil
		}
	}

	value, err := fetch()
	if err != nil {
		return value, err
	}

	if pc.cache != nil {
		if err := cache.SetJSON(ctx, pc.cache, key, value, pc.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache catalogue")
		}
	}
	return value, nil
}

func (pc *providerController) Lists(ctx context.Context, accountID string) ([]model.List, error) {
	return cached(ctx, pc, catalogKeyPrefix(accountID)+"lists", func() ([]model.List, error) {
		catalog, cred, err := capability[esp.ListCatalog](ctx, pc, accountID, "lists")
		if err != nil {
			return nil, err
		}
		return catalog.Lists(ctx, cred)
	})
}

func (pc *providerController) Senders(ctx context.Context, accountID string) ([]model.Sender, error) {
	return cached(ctx, pc, catalogKeyPrefix(accountID)+"senders", func() ([]model.Sender, error) {
		directory, cred, err := capability[esp.SenderDirectory](ctx, pc, accountID, "senders")
		if err != nil {
			return nil, err
		}
		return directory.Senders(ctx, cred)
	})
}

func (pc *providerController) Templates(ctx context.Context, accountID string) ([]model.Template, error) {
	return cached(ctx, pc, catalogKeyPrefix(accountID)+"templates", func() ([]model.Template, error) {
		catalog, cred, err := capability[esp.TemplateCatalog](ctx, pc, accountID, "templates")
		if err != nil {
			return nil, err
		}
		return catalog.Templates(ctx, cred)
	})
}

func (pc *providerController) Automations(ctx context.Context, accountID string) ([]model.Automation, error) {
	return cached(ctx, pc, catalogKeyPrefix(accountID)+"automations", func() ([]model.Automation, error) {
		reporter, cred, err := capability[esp.AutomationReporter](ctx, pc, accountID, "automations")
		if err != nil {
			return nil, err
		}
		return reporter.Automations(ctx, cred)
	})
}

// AutomationStats is never cached; the counters move constantly
func (pc *providerController) AutomationStats(ctx context.Context, accountID, automationID string) (*model.AutomationStats, error) {
	if automationID == "" {
		return nil, fmt.Errorf("%w: automation id is required", orchestrator.ErrValidation)
	}

	reporter, cred, err := capability[esp.AutomationReporter](ctx, pc, accountID, "automation statistics")
	if err != nil {
		return nil, err
	}
	return reporter.AutomationStats(ctx, cred, automationID)
}

func (pc *providerController) ActionSubscribers(ctx context.Context, accountID, automationID, filter string) ([]model.ActionSubscriber, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		filter = esp.ActionAll
	}
	if automationID == "" {
		return nil, fmt.Errorf("%w: automation id is required", orchestrator.ErrValidation)
	}
	if !esp.ValidActionFilter(filter) {
		return nil, fmt.Errorf("%w: unknown action filter %q", orchestrator.ErrValidation, filter)
	}

	reporter, cred, err := capability[esp.AutomationReporter](ctx, pc, accountID, "automation subscribers")
	if err != nil {
		return nil, err
	}
	return reporter.ActionSubscribers(ctx, cred, automationID, filter)
}

func (pc *providerController) Template(ctx context.Context, accountID, templateID string) (*model.TemplateDetail, error) {
	if templateID == "" {
		return nil, fmt.Errorf("%w: template id is required", orchestrator.ErrValidation)
	}

	editor, cred, err := capability[esp.TemplateEditor](ctx, pc, accountID, "template details")
	if err != nil {
		return nil, err
	}
	return editor.Template(ctx, cred, templateID)
}

func (pc *providerController) UpdateTemplate(ctx context.Context, accountID, templateID string, template model.TemplateDetail) error {
	if templateID == "" {
		return fmt.Errorf("%w: template id is required", orchestrator.ErrValidation)
	}
	if strings.TrimSpace(template.HTML) == "" {
		return fmt.Errorf("%w: template html is required", orchestrator.ErrValidation)
	}

	editor, cred, err := capability[esp.TemplateEditor](ctx, pc, accountID, "template updates")
	if err != nil {
		return err
	}

	template.ID = templateID
	if err := editor.UpdateTemplate(ctx, cred, templateID, template); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Str("templateId", templateID).Msg("Template update failed")
		return err
	}

	pc.evict(ctx, accountID, "templates")
	log.Info().Str("accountId", accountID).Str("templateId", templateID).Msg("Template updated")
	return nil
}

func (pc *providerController) AddSender(ctx context.Context, accountID string, sender model.Sender) (json.RawMessage, error) {
	sender.Name = strings.TrimSpace(sender.Name)
	sender.Email = strings.TrimSpace(sender.Email)
	if sender.Email == "" {
		return nil, fmt.Errorf("%w: sender email is required", orchestrator.ErrValidation)
	}

	manager, cred, err := capability[esp.SenderManager](ctx, pc, accountID, "sender management")
	if err != nil {
		return nil, err
	}

	payload, err := manager.AddSender(ctx, cred, sender)
	if err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("Add sender failed")
		return nil, err
	}

	pc.evict(ctx, accountID, "senders")
	log.Info().Str("accountId", accountID).Msg("Sender added")
	return payload, nil
}

func (pc *providerController) DeleteSender(ctx context.Context, accountID string, sender model.Sender) error {
	sender.ID = strings.TrimSpace(sender.ID)
	sender.Email = strings.TrimSpace(sender.Email)
	if sender.ID == "" && sender.Email == "" {
		return fmt.Errorf("%w: sender id or email is required", orchestrator.ErrValidation)
	}

	manager, cred, err := capability[esp.SenderManager](ctx, pc, accountID, "sender management")
	if err != nil {
		return err
	}

	if err := manager.DeleteSender(ctx, cred, sender); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("Delete sender failed")
		return err
	}

	pc.evict(ctx, accountID, "senders")
	log.Info().Str("accountId", accountID).Msg("Sender deleted")
	return nil
}

// evict drops one cached catalogue after a write changed it
func (pc *providerController) evict(ctx context.Context, accountID, catalogue string) {
	if pc.cache == nil {
		return
	}
	if err := pc.cache.Delete(ctx, catalogKeyPrefix(accountID)+catalogue); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Str("catalogue", catalogue).Msg("Failed to evict cached catalogue")
	}
}

func (pc *providerController) AddContact(ctx context.Context, accountID, listID string, contact model.Contact) (json.RawMessage, error) {
	contact.Email = strings.TrimSpace(contact.Email)
	contact.FirstName = strings.TrimSpace(contact.FirstName)
	contact.LastName = strings.TrimSpace(contact.LastName)
	if contact.Email == "" {
		return nil, fmt.Errorf("%w: email is required", orchestrator.ErrValidation)
	}

	_, gateway, cred, err := orchestrator.Resolve(ctx, pc.accounts, pc.gateways, accountID)
	if err != nil {
		return nil, err
	}

	payload, err := gateway.SendContact(ctx, cred, contact, listID)
	if err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Str("listId", listID).Msg("Single contact import failed")
		return nil, err
	}

	log.Info().Str("accountId", accountID).Str("listId", listID).Msg("Single contact imported")
	return payload, nil
}

func (pc *providerController) ForgetSubscriber(ctx context.Context, accountID, listID, email string) error {
	email = strings.TrimSpace(email)
	if listID == "" || email == "" {
		return fmt.Errorf("%w: list and email are required", orchestrator.ErrValidation)
	}

	_, gateway, cred, err := orchestrator.Resolve(ctx, pc.accounts, pc.gateways, accountID)
	if err != nil {
		return err
	}

	if err := gateway.DeleteSubscribers(ctx, cred, listID, []string{email}); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Str("listId", listID).Msg("Forget subscriber failed")
		return err
	}

	log.Info().Str("accountId", accountID).Str("listId", listID).Msg("Subscriber forgotten")
	return nil
}
