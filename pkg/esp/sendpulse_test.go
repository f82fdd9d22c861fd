package esp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"espdesk/internal/cache"
	"espdesk/internal/config"
	"espdesk/internal/model"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spCred = Credential{AccountID: "acc_sp", Provider: model.ProviderSendPulse, ClientID: "client-1", ClientSecret: "secret-1"}

type sendPulseFixture struct {
	client      *SendPulse
	tokenCalls  atomic.Int32
	nextToken   atomic.Value
	apiRequests atomic.Int32
}

// newSendPulseFixture serves the token endpoint and the API from one server.
// The API accepts only the most recently issued token.
func newSendPulseFixture(t *testing.T, tokens TokenCache, api http.HandlerFunc) *sendPulseFixture {
	t.Helper()

	f := &sendPulseFixture{}
	f.nextToken.Store("fresh")

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_secret") != "secret-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client","error_description":"Client authentication failed."}`))
			return
		}
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))

		f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + f.nextToken.Load().(string) + `","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.apiRequests.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+f.nextToken.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		api(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f.client = NewSendPulse(srv.URL, srv.URL+"/oauth/access_token", tokens, Options{})
	return f
}

func newTokenCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(config.RedisConfig{Address: mr.Addr(), Prefix: "espdesk"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSendPulseTokenIsCached(t *testing.T) {
	tokens, mr := newTokenCache(t)
	f := newSendPulseFixture(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":5}`))
	})

	cred, err := f.client.ResolveCredentials(context.Background(), model.Account{ID: "acc_sp", ClientID: "client-1", ClientSecret: "secret-1"})
	require.NoError(t, err)
	assert.Equal(t, spCred, cred)

	stored, err := mr.Get("espdesk:" + tokenCacheKey("client-1"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)

	ttl := mr.TTL("espdesk:" + tokenCacheKey("client-1"))
	assert.True(t, ttl > 58*time.Minute && ttl <= 59*time.Minute, "ttl %s", ttl)

	for i := 0; i < 3; i++ {
		count, err := f.client.GetSubscriberCount(context.Background(), cred, "book-1")
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestSendPulseRefreshesRejectedCachedToken(t *testing.T) {
	tokens, mr := newTokenCache(t)
	require.NoError(t, mr.Set("espdesk:"+tokenCacheKey("client-1"), "stale"))

	f := newSendPulseFixture(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"email":"a@x.com"},{"email":"b@x.com"}]`))
	})

	page, err := f.client.ListSubscriberPage(context.Background(), spCred, "book-1", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, page)

	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, int32(2), f.apiRequests.Load())

	stored, err := mr.Get("espdesk:" + tokenCacheKey("client-1"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)
}

func TestSendPulseWithoutCache(t *testing.T) {
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addressbooks/book-1/emails", r.URL.Path)
		w.Write([]byte(`{"result":true}`))
	})

	for i := 0; i < 2; i++ {
		payload, err := f.client.SendContact(context.Background(), spCred, model.Contact{Email: "a@x.com", FirstName: "Jo"}, "book-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"result":true}`, string(payload))
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestSendPulseInvalidClient(t *testing.T) {
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	_, err := f.client.ResolveCredentials(context.Background(), model.Account{ID: "acc_sp", ClientID: "client-1", ClientSecret: "wrong"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, string(apiErr.Body), "invalid_client")

	_, err = f.client.ResolveCredentials(context.Background(), model.Account{ID: "acc_sp"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestSendPulseAutomations(t *testing.T) {
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a360/autoresponders/list":
			w.Write([]byte(`{"data":[{"id":11,"name":"Welcome","status":1}]}`))
		case "/a360/stats/autoresponder/11":
			w.Write([]byte(`{"name":"Welcome","started":"10","finished":8,"sent":20,"delivered":19,"opened":9,"clicked":3,"unsubscribed":1,"spam":0,"send_error":1}`))
		case "/templates":
			w.Write([]byte(`[{"id":"t1","name":"Promo"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	flows, err := f.client.Automations(context.Background(), spCred)
	require.NoError(t, err)
	assert.Equal(t, []model.Automation{{ID: "11", Name: "Welcome", Status: "1"}}, flows)

	stats, err := f.client.AutomationStats(context.Background(), spCred, "11")
	require.NoError(t, err)
	assert.Equal(t, &model.AutomationStats{
		AutomationID: "11",
		Name:         "Welcome",
		Started:      10,
		Finished:     8,
		Sent:         20,
		Delivered:    19,
		Opened:       9,
		Clicked:      3,
		Unsubscribed: 1,
		SendError:    1,
	}, stats)

	templates, err := f.client.Templates(context.Background(), spCred)
	require.NoError(t, err)
	assert.Equal(t, []model.Template{{ID: "t1", Name: "Promo"}}, templates)
}

func TestSendPulseActionSubscribers(t *testing.T) {
	var filters []string
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/a360/stats/autoresponder/11/subscribers", r.URL.Path)
		filters = append(filters, r.URL.Query().Get("filter"))
		w.Write([]byte(`{"data":[{"email":"a@x.com","action":"opened","date":"2024-05-01 10:00:00"}]}`))
	})

	subscribers, err := f.client.ActionSubscribers(context.Background(), spCred, "11", ActionOpened)
	require.NoError(t, err)
	assert.Equal(t, []model.ActionSubscriber{{Email: "a@x.com", Action: "opened", Date: "2024-05-01 10:00:00"}}, subscribers)

	_, err = f.client.ActionSubscribers(context.Background(), spCred, "11", ActionAll)
	require.NoError(t, err)

	// "all" is the provider default and is not sent
	assert.Equal(t, []string{"opened", ""}, filters)
}

func TestSendPulseTemplateEditing(t *testing.T) {
	html := "<h1>Hello</h1>"
	var edited map[string]string
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/template/t1":
			w.Write([]byte(`{"id":"t1","name":"Promo","body":"` + base64.StdEncoding.EncodeToString([]byte(html)) + `"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/template/edit/t1":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&edited))
			w.Write([]byte(`{"result":true}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	tpl, err := f.client.Template(context.Background(), spCred, "t1")
	require.NoError(t, err)
	assert.Equal(t, &model.TemplateDetail{ID: "t1", Name: "Promo", HTML: html}, tpl)

	tpl.HTML = "<h1>Bye</h1>"
	require.NoError(t, f.client.UpdateTemplate(context.Background(), spCred, "t1", *tpl))
	decoded, err := base64.StdEncoding.DecodeString(edited["body"])
	require.NoError(t, err)
	assert.Equal(t, "<h1>Bye</h1>", string(decoded))
	assert.Equal(t, "en", edited["lang"])
}

func TestSendPulseSenderManagement(t *testing.T) {
	var requests []string
	var bodies []map[string]string
	f := newSendPulseFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/senders", r.URL.Path)
		requests = append(requests, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.Write([]byte(`{"result":true}`))
	})

	payload, err := f.client.AddSender(context.Background(), spCred, model.Sender{Name: "Team", Email: "team@x.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":true}`, string(payload))

	require.NoError(t, f.client.DeleteSender(context.Background(), spCred, model.Sender{Email: "team@x.com"}))

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, requests)
	assert.Equal(t, map[string]string{"name": "Team", "email": "team@x.com"}, bodies[0])
	assert.Equal(t, map[string]string{"email": "team@x.com"}, bodies[1])

	err = f.client.DeleteSender(context.Background(), spCred, model.Sender{ID: "7"})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Len(t, requests, 2)
}
