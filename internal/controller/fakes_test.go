package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"espdesk/internal/aws"
	"espdesk/internal/model"
	"espdesk/internal/orchestrator"
	"espdesk/pkg/esp"
	"io"
	"strings"
	"sync"
	"time"
)

// stubGateway satisfies orchestrator.Gateway plus the list catalogue and
// status check capabilities
type stubGateway struct {
	mu sync.Mutex

	resolveErr error
	statusErr  error
	sendErr    error
	block      chan struct{}

	// resolving, when set, receives once credentials are being resolved and
	// resolution then waits for resolveGate
	resolving   chan struct{}
	resolveGate chan struct{}

	listCalls int
	sent      []model.Contact
	deleted   []string
}

func (g *stubGateway) ResolveCredentials(ctx context.Context, account model.Account) (esp.Credential, error) {
	if g.resolving != nil {
		g.resolving <- struct{}{}
		<-g.resolveGate
	}
	if g.resolveErr != nil {
		return esp.Credential{}, g.resolveErr
	}
	return esp.Credential{AccountID: account.ID, Provider: account.Provider, APIKey: account.APIKey}, nil
}

func (g *stubGateway) SendContact(ctx context.Context, cred esp.Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, contact)
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	return json.RawMessage(`{"id":"` + contact.Email + `"}`), nil
}

func (g *stubGateway) GetSubscriberCount(ctx context.Context, cred esp.Credential, listID string) (int, error) {
	return 0, nil
}

func (g *stubGateway) ListSubscriberPage(ctx context.Context, cred esp.Credential, listID string, limit, offset int) ([]string, error) {
	return nil, nil
}

func (g *stubGateway) DeleteSubscribers(ctx context.Context, cred esp.Credential, listID string, addresses []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, addresses...)
	return nil
}

func (g *stubGateway) Lists(ctx context.Context, cred esp.Credential) ([]model.List, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	return []model.List{{ID: "list-1", Name: "News", Subscribers: 3}}, nil
}

func (g *stubGateway) CheckStatus(ctx context.Context, cred esp.Credential) (json.RawMessage, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return json.RawMessage(`{"account":"` + cred.AccountID + `"}`), nil
}

func (g *stubGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listCalls
}

// bareGateway exposes only the job primitives, no optional capabilities
type bareGateway struct {
	orchestrator.Gateway
}

// editorGateway adds sender, template and automation capabilities on top of
// stubGateway
type editorGateway struct {
	*stubGateway

	senders     []model.Sender
	senderCalls int
	removed     []model.Sender
	templates   map[string]model.TemplateDetail
	filters     []string
}

func (g *editorGateway) Senders(ctx context.Context, cred esp.Credential) ([]model.Sender, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.senderCalls++
	return append([]model.Sender(nil), g.senders...), nil
}

func (g *editorGateway) AddSender(ctx context.Context, cred esp.Credential, sender model.Sender) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.senders = append(g.senders, sender)
	return json.RawMessage(`{"result":true}`), nil
}

func (g *editorGateway) DeleteSender(ctx context.Context, cred esp.Credential, sender model.Sender) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, sender)
	kept := g.senders[:0]
	for _, s := range g.senders {
		if s.Email != sender.Email {
			kept = append(kept, s)
		}
	}
	g.senders = kept
	return nil
}

func (g *editorGateway) Templates(ctx context.Context, cred esp.Credential) ([]model.Template, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]model.Template, 0, len(g.templates))
	for _, t := range g.templates {
		result = append(result, model.Template{ID: t.ID, Name: t.Name})
	}
	return result, nil
}

func (g *editorGateway) Template(ctx context.Context, cred esp.Credential, templateID string) (*model.TemplateDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tpl, ok := g.templates[templateID]
	if !ok {
		return nil, &esp.APIError{Provider: model.ProviderSendPulse, StatusCode: 404, Body: []byte(`{"message":"not found"}`)}
	}
	return &tpl, nil
}

func (g *editorGateway) UpdateTemplate(ctx context.Context, cred esp.Credential, templateID string, template model.TemplateDetail) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templates[templateID] = template
	return nil
}

func (g *editorGateway) Automations(ctx context.Context, cred esp.Credential) ([]model.Automation, error) {
	return []model.Automation{{ID: "11", Name: "Welcome"}}, nil
}

func (g *editorGateway) AutomationStats(ctx context.Context, cred esp.Credential, automationID string) (*model.AutomationStats, error) {
	return &model.AutomationStats{AutomationID: automationID}, nil
}

func (g *editorGateway) ActionSubscribers(ctx context.Context, cred esp.Credential, automationID, filter string) ([]model.ActionSubscriber, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters = append(g.filters, filter)
	return []model.ActionSubscriber{{Email: "a@x.com", Action: filter}}, nil
}

type upload struct {
	key         string
	body        string
	contentType string
}

type fakeFileService struct {
	mu      sync.Mutex
	uploads []upload
}

func (f *fakeFileService) UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{key: key, body: buf.String(), contentType: contentType})
	return "https://files.example/" + key, nil
}

func (f *fakeFileService) ListFiles(ctx context.Context, prefix string) ([]aws.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var files []aws.StoredFile
	for _, u := range f.uploads {
		if strings.HasPrefix(u.key, prefix) {
			files = append(files, aws.StoredFile{Key: u.key, Size: int64(len(u.body)), LastModified: time.Now()})
		}
	}
	return files, nil
}

func (f *fakeFileService) TestConnection(ctx context.Context) error {
	return nil
}
