package esp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"espdesk/internal/model"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenCache is a TokenStore that can also evict entries
type TokenCache interface {
	TokenStore
	Delete(ctx context.Context, key string) error
}

// SendPulse talks to the SendPulse REST API. Access tokens are obtained with
// the OAuth client credentials grant and shared through the token cache so
// every replica reuses one token per client id.
type SendPulse struct {
	*client
	tokenURL string
	tokens   TokenCache

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewSendPulse(baseURL, tokenURL string, tokens TokenCache, opts Options) *SendPulse {
	return &SendPulse{
		client:   newClient(model.ProviderSendPulse, baseURL, opts),
		tokenURL: tokenURL,
		tokens:   tokens,
		sources:  make(map[string]oauth2.TokenSource),
	}
}

func tokenCacheKey(clientID string) string {
	return "sendpulse:token:" + clientID
}

func (s *SendPulse) source(cred Credential) oauth2.TokenSource {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cred.ClientID + ":" + cred.ClientSecret
	if src, ok := s.sources[key]; ok {
		return src
	}

	cfg := clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     s.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// the source outlives the request that created it
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	src := oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx))
	s.sources[key] = src
	return src
}

// accessToken returns a bearer token, from the cache when possible.
// The second return value reports whether it came from the cache.
func (s *SendPulse) accessToken(ctx context.Context, cred Credential) (string, bool, error) {
	key := tokenCacheKey(cred.ClientID)

	if s.tokens != nil {
		if cached, err := s.tokens.Get(ctx, key); err == nil && len(cached) > 0 {
			return string(cached), true, nil
		}
	}

	tok, err := s.source(cred).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return "", false, &APIError{
				Provider:   model.ProviderSendPulse,
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       retrieveErr.Body,
			}
		}
		return "", false, fmt.Errorf("sendpulse token: %w", err)
	}

	if s.tokens != nil && !tok.Expiry.IsZero() {
		ttl := time.Until(tok.Expiry) - time.Minute
		if ttl > 0 {
			if err := s.tokens.Set(ctx, key, []byte(tok.AccessToken), ttl); err != nil {
				log.Warn().Err(err).Str("provider", "sendpulse").Msg("Failed to cache access token")
			}
		}
	}

	return tok.AccessToken, false, nil
}

// authed runs a request with a bearer token. A cached token the API rejects
// is evicted and the request is retried once with a fresh one.
func (s *SendPulse) authed(ctx context.Context, cred Credential, r request) (*response, error) {
	token, cached, err := s.accessToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	r.headers = map[string]string{"Authorization": "Bearer " + token}
	resp, err := s.do(ctx, r)
	if err == nil || !cached || !IsAuthError(err) {
		return resp, err
	}

	log.Debug().Str("clientId", cred.ClientID).Msg("Cached SendPulse token rejected, refreshing")
	if delErr := s.tokens.Delete(ctx, tokenCacheKey(cred.ClientID)); delErr != nil {
		log.Warn().Err(delErr).Msg("Failed to evict SendPulse token")
	}

	s.mu.Lock()
	delete(s.sources, cred.ClientID+":"+cred.ClientSecret)
	s.mu.Unlock()

	token, _, err = s.accessToken(ctx, cred)
	if err != nil {
		return nil, err
	}
	r.headers = map[string]string{"Authorization": "Bearer " + token}
	return s.do(ctx, r)
}

func (s *SendPulse) authedJSON(ctx context.Context, cred Credential, path string, query url.Values, out interface{}) error {
	resp, err := s.authed(ctx, cred, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("error parsing sendpulse response: %w", err)
	}
	return nil
}

func (s *SendPulse) ResolveCredentials(ctx context.Context, account model.Account) (Credential, error) {
	if account.ClientID == "" || account.ClientSecret == "" {
		return Credential{}, fmt.Errorf("%w: sendpulse account %s needs client id and secret", ErrMissingCredentials, account.ID)
	}

	cred := Credential{
		AccountID:    account.ID,
		Provider:     model.ProviderSendPulse,
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
	}

	if _, _, err := s.accessToken(ctx, cred); err != nil {
		return Credential{}, err
	}

	return cred, nil
}

func addressBookPath(listID string) string {
	return "/addressbooks/" + url.PathEscape(listID)
}

func (s *SendPulse) SendContact(ctx context.Context, cred Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	variables := map[string]string{}
	if contact.FirstName != "" {
		variables["name"] = contact.FirstName
	}
	if contact.LastName != "" {
		variables["last_name"] = contact.LastName
	}

	body := map[string]interface{}{
		"emails": []map[string]interface{}{
			{"email": contact.Email, "variables": variables},
		},
	}

	resp, err := s.authed(ctx, cred, request{method: http.MethodPost, path: addressBookPath(listID) + "/emails", body: body})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

func (s *SendPulse) GetSubscriberCount(ctx context.Context, cred Credential, listID string) (int, error) {
	var total struct {
		Total flexInt `json:"total"`
	}
	if err := s.authedJSON(ctx, cred, addressBookPath(listID)+"/emails/total", nil, &total); err != nil {
		return 0, err
	}
	return int(total.Total), nil
}

func (s *SendPulse) ListSubscriberPage(ctx context.Context, cred Credential, listID string, limit, offset int) ([]string, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page []struct {
		Email string `json:"email"`
	}
	if err := s.authedJSON(ctx, cred, addressBookPath(listID)+"/emails", query, &page); err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(page))
	for _, p := range page {
		emails = append(emails, p.Email)
	}
	return emails, nil
}

func (s *SendPulse) DeleteSubscribers(ctx context.Context, cred Credential, listID string, emails []string) error {
	for _, batch := range splitIntoBatches(emails, deleteBatchSize) {
		body := map[string]interface{}{"emails": batch}
		if _, err := s.authed(ctx, cred, request{method: http.MethodDelete, path: addressBookPath(listID) + "/emails", body: body}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SendPulse) Lists(ctx context.Context, cred Credential) ([]model.List, error) {
	var books []struct {
		ID          flexString `json:"id"`
		Name        string     `json:"name"`
		AllEmailQty flexInt    `json:"all_email_qty"`
	}
	if err := s.authedJSON(ctx, cred, "/addressbooks", nil, &books); err != nil {
		return nil, err
	}

	lists := make([]model.List, 0, len(books))
	for _, b := range books {
		lists = append(lists, model.List{ID: string(b.ID), Name: b.Name, Subscribers: int(b.AllEmailQty)})
	}
	return lists, nil
}

func (s *SendPulse) Senders(ctx context.Context, cred Credential) ([]model.Sender, error) {
	var senders []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := s.authedJSON(ctx, cred, "/senders", nil, &senders); err != nil {
		return nil, err
	}

	result := make([]model.Sender, 0, len(senders))
	for _, snd := range senders {
		result = append(result, model.Sender{Name: snd.Name, Email: snd.Email})
	}
	return result, nil
}

func (s *SendPulse) Templates(ctx context.Context, cred Credential) ([]model.Template, error) {
	var templates []struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
	}
	if err := s.authedJSON(ctx, cred, "/templates", nil, &templates); err != nil {
		return nil, err
	}

	result := make([]model.Template, 0, len(templates))
	for _, t := range templates {
		result = append(result, model.Template{ID: string(t.ID), Name: t.Name})
	}
	return result, nil
}

func (s *SendPulse) Automations(ctx context.Context, cred Credential) ([]model.Automation, error) {
	resp, err := s.authed(ctx, cred, request{method: http.MethodGet, path: "/a360/autoresponders/list"})
	if err != nil {
		return nil, err
	}

	var flows []struct {
		ID     flexString `json:"id"`
		Name   string     `json:"name"`
		Status flexString `json:"status"`
	}
	if err := unwrapItems(resp.Body, &flows); err != nil {
		return nil, err
	}

	result := make([]model.Automation, 0, len(flows))
	for _, f := range flows {
		result = append(result, model.Automation{ID: string(f.ID), Name: f.Name, Status: string(f.Status)})
	}
	return result, nil
}

func (s *SendPulse) AutomationStats(ctx context.Context, cred Credential, automationID string) (*model.AutomationStats, error) {
	var stats struct {
		Name         string  `json:"name"`
		Started      flexInt `json:"started"`
		Finished     flexInt `json:"finished"`
		Sent         flexInt `json:"sent"`
		Delivered    flexInt `json:"delivered"`
		Opened       flexInt `json:"opened"`
		Clicked      flexInt `json:"clicked"`
		Unsubscribed flexInt `json:"unsubscribed"`
		Spam         flexInt `json:"spam"`
		SendError    flexInt `json:"send_error"`
	}
	if err := s.authedJSON(ctx, cred, "/a360/stats/autoresponder/"+url.PathEscape(automationID), nil, &stats); err != nil {
		return nil, err
	}

	return &model.AutomationStats{
		AutomationID: automationID,
		Name:         stats.Name,
		Started:      int(stats.Started),
		Finished:     int(stats.Finished),
		Sent:         int(stats.Sent),
		Delivered:    int(stats.Delivered),
		Opened:       int(stats.Opened),
		Clicked:      int(stats.Clicked),
		Unsubscribed: int(stats.Unsubscribed),
		Spam:         int(stats.Spam),
		SendError:    int(stats.SendError),
	}, nil
}

func (s *SendPulse) ActionSubscribers(ctx context.Context, cred Credential, automationID, filter string) ([]model.ActionSubscriber, error) {
	query := url.Values{}
	if filter != "" && filter != ActionAll {
		query.Set("filter", filter)
	}

	resp, err := s.authed(ctx, cred, request{
		method: http.MethodGet,
		path:   "/a360/stats/autoresponder/" + url.PathEscape(automationID) + "/subscribers",
		query:  query,
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Email  string     `json:"email"`
		Action flexString `json:"action"`
		Date   flexString `json:"date"`
	}
	if err := unwrapItems(resp.Body, &rows); err != nil {
		return nil, err
	}

	result := make([]model.ActionSubscriber, 0, len(rows))
	for _, r := range rows {
		result = append(result, model.ActionSubscriber{Email: r.Email, Action: string(r.Action), Date: string(r.Date)})
	}
	return result, nil
}

func (s *SendPulse) Template(ctx context.Context, cred Credential, templateID string) (*model.TemplateDetail, error) {
	var tpl struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
		Body string     `json:"body"`
	}
	if err := s.authedJSON(ctx, cred, "/template/"+url.PathEscape(templateID), nil, &tpl); err != nil {
		return nil, err
	}

	id := string(tpl.ID)
	if id == "" {
		id = templateID
	}
	return &model.TemplateDetail{ID: id, Name: tpl.Name, HTML: decodeTemplateBody(tpl.Body)}, nil
}

// decodeTemplateBody undoes the base64 encoding SendPulse applies to template
// HTML. Bodies that are not valid base64 are returned as they are.
func decodeTemplateBody(body string) string {
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return body
	}
	return string(decoded)
}

// UpdateTemplate replaces the template HTML. SendPulse templates carry no
// sender or subject, so only HTML is sent.
func (s *SendPulse) UpdateTemplate(ctx context.Context, cred Credential, templateID string, template model.TemplateDetail) error {
	body := map[string]string{
		"body": base64.StdEncoding.EncodeToString([]byte(template.HTML)),
		"lang": "en",
	}
	_, err := s.authed(ctx, cred, request{method: http.MethodPost, path: "/template/edit/" + url.PathEscape(templateID), body: body})
	return err
}

func (s *SendPulse) AddSender(ctx context.Context, cred Credential, sender model.Sender) (json.RawMessage, error) {
	body := map[string]string{"name": sender.Name, "email": sender.Email}
	resp, err := s.authed(ctx, cred, request{method: http.MethodPost, path: "/senders", body: body})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}

// DeleteSender removes a sender by address; SendPulse senders have no id.
func (s *SendPulse) DeleteSender(ctx context.Context, cred Credential, sender model.Sender) error {
	if sender.Email == "" {
		return fmt.Errorf("sendpulse sender removal needs an email: %w", ErrUnsupported)
	}
	_, err := s.authed(ctx, cred, request{method: http.MethodDelete, path: "/senders", body: map[string]string{"email": sender.Email}})
	return err
}

func (s *SendPulse) CheckStatus(ctx context.Context, cred Credential) (json.RawMessage, error) {
	resp, err := s.authed(ctx, cred, request{method: http.MethodGet, path: "/senders"})
	if err != nil {
		return nil, err
	}
	return rawBody(resp.Body), nil
}
