package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"espdesk/internal/events"
	"espdesk/internal/model"
	"espdesk/pkg/esp"
	"fmt"
	"sync"
	"time"
)

type fakeAccounts struct {
	accounts map[string]model.Account
}

func newFakeAccounts(accounts ...model.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]model.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return &account, nil
}

// fakeGateway records every call. sendFn decides the outcome of the n-th
// (1-based) send; when gate is set each send first announces itself on
// entered and then waits for a token on gate.
type fakeGateway struct {
	mu sync.Mutex

	resolveErr error
	sendFn     func(n int, contact model.Contact) (json.RawMessage, error)
	sent       []model.Contact

	entered chan model.Contact
	gate    chan struct{}

	count       int
	countErr    error
	subscribers []string
	pageErrAt   int
	pageOffsets []int
	deleteErr   error
	deleted     []string
	onDelete    func()
}

func (f *fakeGateway) ResolveCredentials(ctx context.Context, account model.Account) (esp.Credential, error) {
	if f.resolveErr != nil {
		return esp.Credential{}, f.resolveErr
	}
	return esp.Credential{AccountID: account.ID, Provider: account.Provider, APIKey: account.APIKey}, nil
}

func (f *fakeGateway) SendContact(ctx context.Context, cred esp.Credential, contact model.Contact, listID string) (json.RawMessage, error) {
	if f.gate != nil {
		f.entered <- contact
		<-f.gate
	}

	f.mu.Lock()
	f.sent = append(f.sent, contact)
	n := len(f.sent)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(n, contact)
	}
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (f *fakeGateway) GetSubscriberCount(ctx context.Context, cred esp.Credential, listID string) (int, error) {
	return f.count, f.countErr
}

func (f *fakeGateway) ListSubscriberPage(ctx context.Context, cred esp.Credential, listID string, limit, offset int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageOffsets = append(f.pageOffsets, offset)
	if f.pageErrAt > 0 && offset >= f.pageErrAt {
		return nil, &esp.APIError{Provider: "fake", StatusCode: 502, Body: []byte(`{"message":"bad gateway"}`)}
	}
	if offset >= len(f.subscribers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.subscribers) {
		end = len(f.subscribers)
	}
	return append([]string(nil), f.subscribers[offset:end]...), nil
}

func (f *fakeGateway) DeleteSubscribers(ctx context.Context, cred esp.Credential, listID string, addresses []string) error {
	if f.onDelete != nil {
		f.onDelete()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, addresses...)
	return nil
}

func (f *fakeGateway) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeGateway) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pageOffsets...)
}

func newGatedGateway() *fakeGateway {
	return &fakeGateway{
		entered: make(chan model.Contact, 1),
		gate:    make(chan struct{}),
	}
}

// failOdd fails every odd-numbered send
func failOdd(n int, contact model.Contact) (json.RawMessage, error) {
	if n%2 == 1 {
		return nil, &esp.APIError{Provider: "fake", StatusCode: 400, Body: []byte(`{"error":"rejected"}`)}
	}
	return json.RawMessage(`{"id":"` + contact.Email + `"}`), nil
}

var errBadKey = errors.New("bad key")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
