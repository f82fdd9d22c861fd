package esp

import (
	"context"
	"encoding/json"
	"espdesk/internal/model"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// SendX talks to the SendX REST API with a team API key
type SendX struct {
	*client
}

func NewSendX(baseURL string, opts Options) *SendX {
	return &SendX{client: newClient(model.ProviderSendX, baseURL, opts)}
}

type sendxList struct {
	ID           flexString `json:"id"`
	Name         string     `json:"name"`
	ContactCount flexInt    `json:"contactCount"`
}

type sendxContact struct {
	Email string `json:"email"`
}

type sendxSender struct {
	ID    flexString `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
}

func (s *SendX) ResolveCredentials(ctx context.Context, account model.Account) (Credential, error) {
	if account.APIKey == "" {
		return Credential{}, fmt.Errorf("%w: sendx account %s has no api key", ErrMissingCredentials, account.ID)
	}
	return Credential{AccountID: account.ID, Provider: model.ProviderSendX, APIKey: account.APIKey}, nil
}

func (s *SendX) headers(cred Credential) map[string]string {
	return map[string]string{"X-Team-ApiKey": cred.APIKey}
}

func (s *SendX) SendContact(ctx context.Context, cred Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	body := map[string]interface{}{
		"email":     contact.Email,
		"firstName": contact.FirstName,
		"lastName":  contact.LastName,
		"lists":     []string{listID},
	}

	resp, err := s.do(ctx, request{method: http.MethodPost, path: "/contact", body: body, headers: s.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

func (s *SendX) GetSubscriberCount(ctx context.Context, cred Credential, listID string) (int, error) {
	var list sendxList
	if err := s.getJSON(ctx, "/list/"+url.PathEscape(listID), nil, s.headers(cred), &list); err != nil {
		return 0, err
	}
	return int(list.ContactCount), nil
}

func (s *SendX) ListSubscriberPage(ctx context.Context, cred Credential, listID string, limit, offset int) ([]string, error) {
	query := url.Values{}
	query.Set("list", listID)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	resp, err := s.do(ctx, request{method: http.MethodGet, path: "/contact", query: query, headers: s.headers(cred)})
	if err != nil {
		return nil, err
	}

	var contacts []sendxContact
	if err := unwrapItems(resp.Body, &contacts); err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(contacts))
	for _, c := range contacts {
		emails = append(emails, c.Email)
	}
	return emails, nil
}

func (s *SendX) DeleteSubscribers(ctx context.Context, cred Credential, listID string, emails []string) error {
	for _, batch := range splitIntoBatches(emails, deleteBatchSize) {
		_, err := s.do(ctx, request{
			method:  http.MethodDelete,
			path:    "/list/" + url.PathEscape(listID) + "/contact",
			body:    map[string]interface{}{"emails": batch},
			headers: s.headers(cred),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SendX) Lists(ctx context.Context, cred Credential) ([]model.List, error) {
	resp, err := s.do(ctx, request{method: http.MethodGet, path: "/list", headers: s.headers(cred)})
	if err != nil {
		return nil, err
	}

	var lists []sendxList
	if err := unwrapItems(resp.Body, &lists); err != nil {
		return nil, err
	}

	result := make([]model.List, 0, len(lists))
	for _, l := range lists {
		result = append(result, model.List{ID: string(l.ID), Name: l.Name, Subscribers: int(l.ContactCount)})
	}
	return result, nil
}

func (s *SendX) Senders(ctx context.Context, cred Credential) ([]model.Sender, error) {
	resp, err := s.do(ctx, request{method: http.MethodGet, path: "/sender", headers: s.headers(cred)})
	if err != nil {
		return nil, err
	}

	var senders []sendxSender
	if err := unwrapItems(resp.Body, &senders); err != nil {
		return nil, err
	}

	result := make([]model.Sender, 0, len(senders))
	for _, snd := range senders {
		result = append(result, model.Sender{ID: string(snd.ID), Name: snd.Name, Email: snd.Email})
	}
	return result, nil
}

// CheckStatus lists the team's senders, which any valid key may do
func (s *SendX) CheckStatus(ctx context.Context, cred Credential) (json.RawMessage, error) {
	resp, err := s.do(ctx, request{method: http.MethodGet, path: "/sender", headers: s.headers(cred)})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}
