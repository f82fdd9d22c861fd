// Package esp holds the HTTP clients for the supported email-marketing
// providers. Every client resolves per-account credentials and exposes the
// same import/delete primitives, plus optional catalogue capabilities.
package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"espdesk/internal/model"
	"fmt"
	"strconv"
	"time"
)

// ErrUnsupported is returned for operations a provider does not offer
var ErrUnsupported = errors.New("operation not supported by provider")

// ErrMissingCredentials is returned when an account lacks the fields its provider needs
var ErrMissingCredentials = errors.New("missing credentials")

// Credential is the authentication material resolved from an account
type Credential struct {
	AccountID    string
	Provider     model.Provider
	APIKey       string
	ClientID     string
	ClientSecret string
}

// APIError is a non-2xx provider response. Body is kept verbatim so it can
// be shown to the operator as the failure payload.
type APIError struct {
	Provider   model.Provider
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	body := string(bytes.TrimSpace(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s API error: status code %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: status code %d: %s", e.Provider, e.StatusCode, body)
}

// IsAuthError reports whether the provider rejected the credentials
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

// ListCatalog lists the destination lists of an account
type ListCatalog interface {
	Lists(ctx context.Context, cred Credential) ([]model.List, error)
}

type SenderDirectory interface {
	Senders(ctx context.Context, cred Credential) ([]model.Sender, error)
}

// SenderManager registers and removes sender addresses. Providers may
// require the new address to be verified before it can send.
type SenderManager interface {
	AddSender(ctx context.Context, cred Credential, sender model.Sender) (json.RawMessage, error)
	// DeleteSender removes the sender matching ID, or Email when ID is empty
	DeleteSender(ctx context.Context, cred Credential, sender model.Sender) error
}

type TemplateCatalog interface {
	Templates(ctx context.Context, cred Credential) ([]model.Template, error)
}

// TemplateEditor reads and rewrites the content of a single template
type TemplateEditor interface {
	Template(ctx context.Context, cred Credential, templateID string) (*model.TemplateDetail, error)
	UpdateTemplate(ctx context.Context, cred Credential, templateID string, template model.TemplateDetail) error
}

// AutomationReporter exposes automation flows, their delivery counters and
// the recipients behind each counter
type AutomationReporter interface {
	Automations(ctx context.Context, cred Credential) ([]model.Automation, error)
	AutomationStats(ctx context.Context, cred Credential, automationID string) (*model.AutomationStats, error)
	ActionSubscribers(ctx context.Context, cred Credential, automationID, filter string) ([]model.ActionSubscriber, error)
}

// Action filters accepted by AutomationReporter.ActionSubscribers
const (
	ActionAll              = "all"
	ActionSentNotKnown     = "sent_not_known"
	ActionDeliveredNotRead = "delivered_not_read"
	ActionOpened           = "opened"
	ActionClicked          = "clicked"
	ActionUnsubscribed     = "unsubscribed"
	ActionSpamByUser       = "spam_by_user"
	ActionErrors           = "errors"
)

var actionFilters = []string{
	ActionAll, ActionSentNotKnown, ActionDeliveredNotRead, ActionOpened,
	ActionClicked, ActionUnsubscribed, ActionSpamByUser, ActionErrors,
}

// ValidActionFilter reports whether filter names a known subscriber action
func ValidActionFilter(filter string) bool {
	for _, known := range actionFilters {
		if filter == known {
			return true
		}
	}
	return false
}

// StatusChecker calls the provider with the credential and returns the raw answer
type StatusChecker interface {
	CheckStatus(ctx context.Context, cred Credential) (json.RawMessage, error)
}

// TokenStore caches access tokens between requests. cache.Cache satisfies it.
type TokenStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// flexString accepts both JSON strings and numbers; providers are not
// consistent about id types.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts numbers and numeric strings
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// unwrapItems decodes either a bare JSON array or an object wrapping the
// array under one of the usual envelope keys.
func unwrapItems(body []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}

	for _, key := range []string{"data", "items", "results"} {
		if raw, ok := envelope[key]; ok {
			return json.Unmarshal(raw, out)
		}
	}

	return fmt.Errorf("error parsing response: no item array found")
}

// deleteBatchSize caps the addresses sent in one bulk delete request
const deleteBatchSize = 500

// splitIntoBatches divides items into consecutive batches of at most batchSize
func splitIntoBatches[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		return nil
	}

	batches := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}

	return batches
}
