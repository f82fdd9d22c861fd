package esp

import (
	"context"
	"encoding/json"
	"espdesk/internal/model"
	"fmt"
	"net/http"
)

// MagicLink imports users into a Magic application. Magic has no notion of
// lists, so list-scoped operations return ErrUnsupported.
type MagicLink struct {
	*client
}

func NewMagicLink(baseURL string, opts Options) *MagicLink {
	return &MagicLink{client: newClient(model.ProviderMagicLink, baseURL, opts)}
}

func (m *MagicLink) headers(cred Credential) map[string]string {
	return map[string]string{"X-Magic-Secret-Key": cred.APIKey}
}

func (m *MagicLink) ResolveCredentials(ctx context.Context, account model.Account) (Credential, error) {
	if account.SecretKey == "" {
		return Credential{}, fmt.Errorf("%w: magic account %s has no secret key", ErrMissingCredentials, account.ID)
	}
	return Credential{
		AccountID: account.ID,
		Provider:  model.ProviderMagicLink,
		APIKey:    account.SecretKey,
		ClientID:  account.ApplicationID,
	}, nil
}

// SendContact imports the address as a Magic user; listID is ignored
func (m *MagicLink) SendContact(ctx context.Context, cred Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	body := map[string]interface{}{
		"users": []map[string]string{{"email": contact.Email}},
	}

	resp, err := m.do(ctx, request{method: http.MethodPost, path: "/v1/admin/auth/user/import", body: body, headers: m.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

func (m *MagicLink) GetSubscriberCount(ctx context.Context, cred Credential, listID string) (int, error) {
	return 0, fmt.Errorf("magic subscriber count: %w", ErrUnsupported)
}

func (m *MagicLink) ListSubscriberPage(ctx context.Context, cred Credential, listID string, limit, offset int) ([]string, error) {
	return nil, fmt.Errorf("magic subscriber listing: %w", ErrUnsupported)
}

func (m *MagicLink) DeleteSubscribers(ctx context.Context, cred Credential, listID string, addresses []string) error {
	return fmt.Errorf("magic subscriber deletion: %w", ErrUnsupported)
}

func (m *MagicLink) CheckStatus(ctx context.Context, cred Credential) (json.RawMessage, error) {
	resp, err := m.do(ctx, request{method: http.MethodGet, path: "/v1/admin/client/get", headers: m.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}
