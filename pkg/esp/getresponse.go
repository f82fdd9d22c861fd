package esp

import (
	"context"
	"encoding/json"
	"espdesk/internal/model"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// GetResponse talks to the GetResponse v3 API. Campaigns play the role of
// lists and subscribers are addressed by contact id.
type GetResponse struct {
	*client
}

func NewGetResponse(baseURL string, opts Options) *GetResponse {
	return &GetResponse{client: newClient(model.ProviderGetResponse, baseURL, opts)}
}

func (g *GetResponse) headers(cred Credential) map[string]string {
	return map[string]string{"X-Auth-Token": "api-key " + cred.APIKey}
}

func (g *GetResponse) ResolveCredentials(ctx context.Context, account model.Account) (Credential, error) {
	if account.APIKey == "" {
		return Credential{}, fmt.Errorf("%w: getresponse account %s has no api key", ErrMissingCredentials, account.ID)
	}
	return Credential{AccountID: account.ID, Provider: model.ProviderGetResponse, APIKey: account.APIKey}, nil
}

// SendContact creates the contact in the campaign. GetResponse usually
// queues the creation and answers 202 with an empty body; any 2xx counts.
func (g *GetResponse) SendContact(ctx context.Context, cred Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	body := map[string]interface{}{
		"email":    contact.Email,
		"campaign": map[string]string{"campaignId": listID},
	}
	if name := strings.TrimSpace(contact.FirstName + " " + contact.LastName); name != "" {
		body["name"] = name
	}

	resp, err := g.do(ctx, request{method: http.MethodPost, path: "/contacts", body: body, headers: g.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

func campaignContactsPath(listID string) string {
	return "/campaigns/" + url.PathEscape(listID) + "/contacts"
}

// GetSubscriberCount reads the TotalCount header of a one-item page
func (g *GetResponse) GetSubscriberCount(ctx context.Context, cred Credential, listID string) (int, error) {
	query := url.Values{}
	query.Set("perPage", "1")

	resp, err := g.do(ctx, request{method: http.MethodGet, path: campaignContactsPath(listID), query: query, headers: g.headers(cred)})
	if err != nil {
		return 0, err
	}

	total := resp.Header.Get("TotalCount")
	if total == "" {
		return 0, fmt.Errorf("getresponse response has no TotalCount header")
	}

	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid TotalCount header %q: %w", total, err)
	}
	return n, nil
}

// ListSubscriberPage returns contact ids. GetResponse pages are 1-based and
// sized by perPage, so offset must be a multiple of limit.
func (g *GetResponse) ListSubscriberPage(ctx context.Context, cred Credential, listID string, limit, offset int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid page size %d", limit)
	}

	query := url.Values{}
	query.Set("perPage", strconv.Itoa(limit))
	query.Set("page", strconv.Itoa(offset/limit+1))
	query.Set("fields", "contactId,email")

	var contacts []struct {
		ContactID string `json:"contactId"`
	}
	if err := g.getJSON(ctx, campaignContactsPath(listID), query, g.headers(cred), &contacts); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ContactID)
	}
	return ids, nil
}

// DeleteSubscribers removes contacts one by one; the API has no batch
// delete. Email addresses are resolved to contact ids first.
func (g *GetResponse) DeleteSubscribers(ctx context.Context, cred Credential, listID string, addresses []string) error {
	for _, address := range addresses {
		contactID := address
		if strings.Contains(address, "@") {
			id, err := g.contactID(ctx, cred, listID, address)
			if err != nil {
				return err
			}
			contactID = id
		}

		_, err := g.do(ctx, request{
			method:  http.MethodDelete,
			path:    "/contacts/" + url.PathEscape(contactID),
			headers: g.headers(cred),
		})
		if err != nil {
			return fmt.Errorf("delete contact %s: %w", contactID, err)
		}
	}
	return nil
}

func (g *GetResponse) contactID(ctx context.Context, cred Credential, listID, email string) (string, error) {
	query := url.Values{}
	query.Set("query[email]", email)
	query.Set("fields", "contactId")

	var contacts []struct {
		ContactID string `json:"contactId"`
	}
	if err := g.getJSON(ctx, campaignContactsPath(listID), query, g.headers(cred), &contacts); err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		return "", &APIError{
			Provider:   model.ProviderGetResponse,
			StatusCode: http.StatusNotFound,
			Body:       []byte(fmt.Sprintf(`{"message":"contact %s not found"}`, email)),
		}
	}
	return contacts[0].ContactID, nil
}

func (g *GetResponse) Lists(ctx context.Context, cred Credential) ([]model.List, error) {
	var campaigns []struct {
		CampaignID string `json:"campaignId"`
		Name       string `json:"name"`
	}
	if err := g.getJSON(ctx, "/campaigns", nil, g.headers(cred), &campaigns); err != nil {
		return nil, err
	}

	lists := make([]model.List, 0, len(campaigns))
	for _, c := range campaigns {
		lists = append(lists, model.List{ID: c.CampaignID, Name: c.Name})
	}
	return lists, nil
}

func (g *GetResponse) Senders(ctx context.Context, cred Credential) ([]model.Sender, error) {
	var fields []struct {
		FromFieldID string `json:"fromFieldId"`
		Name        string `json:"name"`
		Email       string `json:"email"`
	}
	if err := g.getJSON(ctx, "/from-fields", nil, g.headers(cred), &fields); err != nil {
		return nil, err
	}

	senders := make([]model.Sender, 0, len(fields))
	for _, f := range fields {
		senders = append(senders, model.Sender{ID: f.FromFieldID, Name: f.Name, Email: f.Email})
	}
	return senders, nil
}

func (g *GetResponse) AddSender(ctx context.Context, cred Credential, sender model.Sender) (json.RawMessage, error) {
	body := map[string]string{"name": sender.Name, "email": sender.Email}
	resp, err := g.do(ctx, request{method: http.MethodPost, path: "/from-fields", body: body, headers: g.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

// DeleteSender removes a from-field. Without an id the field is looked up by
// email address.
func (g *GetResponse) DeleteSender(ctx context.Context, cred Credential, sender model.Sender) error {
	id := sender.ID
	if id == "" {
		senders, err := g.Senders(ctx, cred)
		if err != nil {
			return err
		}
		for _, s := range senders {
			if strings.EqualFold(s.Email, sender.Email) {
				id = s.ID
				break
			}
		}
	}
	if id == "" {
		return &APIError{
			Provider:   model.ProviderGetResponse,
			StatusCode: http.StatusNotFound,
			Body:       []byte(fmt.Sprintf(`{"message":"from field %s not found"}`, sender.Email)),
		}
	}

	_, err := g.do(ctx, request{method: http.MethodDelete, path: "/from-fields/" + url.PathEscape(id), headers: g.headers(cred)})
	return err
}

func (g *GetResponse) CheckStatus(ctx context.Context, cred Credential) (json.RawMessage, error) {
	resp, err := g.do(ctx, request{method: http.MethodGet, path: "/accounts", headers: g.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}
