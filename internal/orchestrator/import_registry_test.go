package orchestrator

import (
	"context"
	"errors"
	"espdesk/internal/model"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	sendxAccount = model.Account{ID: "acc_sendx", Name: "Main", Provider: model.ProviderSendX, APIKey: "key-1"}
	grAccount    = model.Account{ID: "acc_gr", Name: "Other", Provider: model.ProviderGetResponse, APIKey: "key-2"}
)

func newTestImportRegistry(t *testing.T, sendx, getresponse *fakeGateway) *ImportRegistry {
	t.Helper()

	gateways := NewGatewayRegistry()
	if sendx != nil {
		gateways.Register(model.ProviderSendX, sendx)
	}
	if getresponse != nil {
		gateways.Register(model.ProviderGetResponse, getresponse)
	}

	r := NewImportRegistry(newFakeAccounts(sendxAccount, grAccount), gateways, nil, ImportOptions{MaxDelay: time.Minute})
	t.Cleanup(r.Stop)
	return r
}

func waitTerminal(t *testing.T, r *ImportRegistry, jobID string) *model.ImportJob {
	t.Helper()

	var job *model.ImportJob
	require.Eventually(t, func() bool {
		var err error
		job, err = r.Get(jobID)
		return err == nil && job.IsTerminal()
	}, waitFor, tick)
	return job
}

func indices(results []model.ImportResult) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.Index)
	}
	sort.Ints(out)
	return out
}

func TestImportCompletes(t *testing.T) {
	gateway := &fakeGateway{}
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:   sendxAccount.ID,
		ListID:      "list-1",
		ListName:    "Newsletter",
		RawContacts: "a@x.com,Jo,Doe\n\nb@x.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, started.TotalContacts)
	assert.Equal(t, "Newsletter", started.ListName)

	job := waitTerminal(t, r, started.ID)
	assert.Equal(t, model.ImportCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	require.Len(t, job.Results, 2)
	assert.Equal(t, []int{1, 2}, indices(job.Results))
	assert.Equal(t, 2, job.SuccessCount())
	assert.NotNil(t, job.CompletedAt)

	// most recent first
	assert.Equal(t, 2, job.Results[0].Index)
	assert.Equal(t, "b@x.com", job.Results[0].Email)
	assert.JSONEq(t, `{"status":"ok"}`, string(job.Results[0].Payload))

	_, active := r.ActiveForAccount(sendxAccount.ID)
	assert.False(t, active)
}

func TestImportRecordsFailuresWithoutStopping(t *testing.T) {
	gateway := &fakeGateway{sendFn: failOdd}
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:   sendxAccount.ID,
		ListID:      "list-1",
		RawContacts: "1@x.com\n2@x.com\n3@x.com\n4@x.com",
	})
	require.NoError(t, err)

	job := waitTerminal(t, r, started.ID)
	assert.Equal(t, model.ImportCompleted, job.Status)
	assert.Equal(t, 2, job.SuccessCount())
	assert.Equal(t, 2, job.FailureCount())
	assert.Equal(t, job.TotalContacts, job.SuccessCount()+job.FailureCount())

	for _, result := range job.Results {
		if result.Index%2 == 1 {
			assert.Equal(t, model.OutcomeFailure, result.Outcome, "index %d", result.Index)
			assert.JSONEq(t, `{"error":"rejected"}`, string(result.Payload))
		} else {
			assert.Equal(t, model.OutcomeSuccess, result.Outcome, "index %d", result.Index)
		}
	}
}

func TestImportCancelDuringDelay(t *testing.T) {
	gateway := &fakeGateway{}
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:    sendxAccount.ID,
		ListID:       "list-1",
		RawContacts:  "1@x.com\n2@x.com\n3@x.com",
		DelaySeconds: 30,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, _ := r.Get(started.ID)
		return len(job.Results) == 1
	}, waitFor, tick)

	snap, err := r.Cancel(started.ID)
	require.NoError(t, err)
	assert.True(t, snap.CancelRequested)

	job := waitTerminal(t, r, started.ID)
	assert.Equal(t, model.ImportCancelled, job.Status)
	assert.Len(t, job.Results, 1)
	assert.Equal(t, 1, gateway.sentCount())

	_, err = r.Cancel(started.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestImportCancelLetsInFlightSendFinish(t *testing.T) {
	gateway := newGatedGateway()
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:   sendxAccount.ID,
		ListID:      "list-1",
		RawContacts: "1@x.com\n2@x.com\n3@x.com\n4@x.com",
	})
	require.NoError(t, err)

	<-gateway.entered
	gateway.gate <- struct{}{}
	<-gateway.entered

	// second send is in flight
	_, err = r.Cancel(started.ID)
	require.NoError(t, err)
	gateway.gate <- struct{}{}

	job := waitTerminal(t, r, started.ID)
	assert.Equal(t, model.ImportCancelled, job.Status)
	assert.Equal(t, []int{1, 2}, indices(job.Results))
	assert.Equal(t, float64(50), job.Progress)
	assert.Equal(t, 2, gateway.sentCount())
}

func TestImportPauseResumeKeepsOutcomes(t *testing.T) {
	reference := &fakeGateway{sendFn: failOdd}
	gated := newGatedGateway()
	gated.sendFn = failOdd
	r := newTestImportRegistry(t, gated, reference)

	raw := "1@x.com\n2@x.com\n3@x.com\n4@x.com\n5@x.com"

	refJob, err := r.StartImport(context.Background(), ImportRequest{AccountID: grAccount.ID, ListID: "l", RawContacts: raw})
	require.NoError(t, err)

	started, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: raw})
	require.NoError(t, err)

	<-gated.entered
	paused, err := r.Pause(started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportPaused, paused.Status)
	gated.gate <- struct{}{}

	require.Eventually(t, func() bool {
		job, _ := r.Get(started.ID)
		return len(job.Results) == 1
	}, waitFor, tick)

	// paused jobs neither send nor age
	r.tickElapsed()
	r.tickElapsed()
	select {
	case <-gated.entered:
		t.Fatal("paused job sent a contact")
	case <-time.After(50 * time.Millisecond):
	}
	job, err := r.Get(started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportPaused, job.Status)
	assert.Equal(t, 0, job.ElapsedSeconds)

	_, err = r.Pause(started.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = r.Resume(started.ID)
	require.NoError(t, err)
	r.tickElapsed()

	for i := 0; i < 4; i++ {
		<-gated.entered
		gated.gate <- struct{}{}
	}

	final := waitTerminal(t, r, started.ID)
	ref := waitTerminal(t, r, refJob.ID)

	assert.Equal(t, model.ImportCompleted, final.Status)
	assert.Equal(t, 1, final.ElapsedSeconds)
	require.Len(t, final.Results, len(ref.Results))
	for i := range ref.Results {
		assert.Equal(t, ref.Results[i].Index, final.Results[i].Index)
		assert.Equal(t, ref.Results[i].Email, final.Results[i].Email)
		assert.Equal(t, ref.Results[i].Outcome, final.Results[i].Outcome)
	}
}

func TestImportCancelWhilePaused(t *testing.T) {
	gateway := newGatedGateway()
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com\n2@x.com\n3@x.com"})
	require.NoError(t, err)

	<-gateway.entered
	_, err = r.Pause(started.ID)
	require.NoError(t, err)
	gateway.gate <- struct{}{}

	require.Eventually(t, func() bool {
		job, _ := r.Get(started.ID)
		return len(job.Results) == 1
	}, waitFor, tick)

	_, err = r.Resume(started.ID)
	require.NoError(t, err)
	<-gateway.entered
	_, err = r.Pause(started.ID)
	require.NoError(t, err)
	gateway.gate <- struct{}{}

	_, err = r.Cancel(started.ID)
	require.NoError(t, err)

	_, err = r.Resume(started.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	job := waitTerminal(t, r, started.ID)
	assert.Equal(t, model.ImportCancelled, job.Status)
	assert.Len(t, job.Results, 2)
}

func TestImportConflict(t *testing.T) {
	gated := newGatedGateway()
	other := &fakeGateway{}
	r := newTestImportRegistry(t, gated, other)

	first, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com"})
	require.NoError(t, err)

	_, err = r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "2@x.com"})
	assert.ErrorIs(t, err, ErrConflict)

	active, ok := r.ActiveForAccount(sendxAccount.ID)
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	// a different account runs independently
	second, err := r.StartImport(context.Background(), ImportRequest{AccountID: grAccount.ID, ListID: "l", RawContacts: "3@x.com"})
	require.NoError(t, err)
	assert.Equal(t, model.ImportCompleted, waitTerminal(t, r, second.ID).Status)

	<-gated.entered
	gated.gate <- struct{}{}
	assert.Equal(t, model.ImportCompleted, waitTerminal(t, r, first.ID).Status)
}

func TestImportStartRejections(t *testing.T) {
	gateway := &fakeGateway{}
	rejecting := &fakeGateway{resolveErr: errBadKey}
	r := newTestImportRegistry(t, gateway, rejecting)

	tests := []struct {
		name string
		req  ImportRequest
		want error
	}{
		{"no contacts", ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "\n\n"}, ErrValidation},
		{"negative delay", ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "a@x.com", DelaySeconds: -1}, ErrValidation},
		{"delay too long", ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "a@x.com", DelaySeconds: 120}, ErrValidation},
		{"missing list", ImportRequest{AccountID: sendxAccount.ID, RawContacts: "a@x.com"}, ErrValidation},
		{"unknown account", ImportRequest{AccountID: "acc_missing", ListID: "l", RawContacts: "a@x.com"}, ErrNotFound},
		{"bad credentials", ImportRequest{AccountID: grAccount.ID, ListID: "l", RawContacts: "a@x.com"}, ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.StartImport(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, r.List())
	assert.Equal(t, 0, gateway.sentCount())
}

func TestImportControlUnknownJob(t *testing.T) {
	r := newTestImportRegistry(t, &fakeGateway{}, nil)

	_, err := r.Pause("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resume("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Cancel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Remove("nope"), ErrNotFound)
}

func TestImportProgressIsMonotonic(t *testing.T) {
	gateway := &fakeGateway{sendFn: failOdd}
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:    sendxAccount.ID,
		ListID:       "l",
		RawContacts:  "1@x.com\n2@x.com\n3@x.com\n4@x.com\n5@x.com\n6@x.com",
		DelaySeconds: 0.01,
	})
	require.NoError(t, err)

	var seen []float64
	require.Eventually(t, func() bool {
		job, err := r.Get(started.ID)
		if err != nil {
			return false
		}
		seen = append(seen, job.Progress)
		assert.InDelta(t, float64(len(job.Results))/6*100, job.Progress, 0.0001)
		return job.IsTerminal()
	}, waitFor, time.Millisecond)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, float64(100), seen[len(seen)-1])
}

func TestImportSupersedeAndRemove(t *testing.T) {
	gateway := &fakeGateway{}
	r := newTestImportRegistry(t, gateway, nil)

	first, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com"})
	require.NoError(t, err)
	waitTerminal(t, r, first.ID)

	second, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "2@x.com"})
	require.NoError(t, err)
	waitTerminal(t, r, second.ID)

	_, err = r.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	jobs := r.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID)

	require.NoError(t, r.Remove(second.ID))
	assert.Empty(t, r.List())
}

func TestImportRemoveActiveJob(t *testing.T) {
	gateway := newGatedGateway()
	r := newTestImportRegistry(t, gateway, nil)

	started, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Remove(started.ID), ErrInvalidState)

	<-gateway.entered
	gateway.gate <- struct{}{}
	waitTerminal(t, r, started.ID)
}

func TestImportStopCancelsRunningJobs(t *testing.T) {
	gateway := &fakeGateway{}
	gateways := NewGatewayRegistry()
	gateways.Register(model.ProviderSendX, gateway)
	r := NewImportRegistry(newFakeAccounts(sendxAccount), gateways, nil, ImportOptions{MaxDelay: time.Minute, TickInterval: time.Millisecond})
	r.Start(context.Background())

	started, err := r.StartImport(context.Background(), ImportRequest{
		AccountID:    sendxAccount.ID,
		ListID:       "l",
		RawContacts:  "1@x.com\n2@x.com",
		DelaySeconds: 30,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, _ := r.Get(started.ID)
		return len(job.Results) == 1 && job.ElapsedSeconds > 0
	}, waitFor, tick)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}

	job, err := r.Get(started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportCancelled, job.Status)

	_, err = r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "3@x.com"})
	assert.Error(t, err)
}

func TestImportConcurrentStartsForOneAccount(t *testing.T) {
	gateway := newGatedGateway()
	gateway.entered = make(chan model.Contact, 10)
	r := newTestImportRegistry(t, gateway, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  []string
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "a@x.com"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrConflict)
				conflicts++
				return
			}
			accepted = append(accepted, job.ID)
		}()
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	assert.Equal(t, 9, conflicts)

	<-gateway.entered
	gateway.gate <- struct{}{}
	waitTerminal(t, r, accepted[0])
}

func TestWithAccountLockedBlocksNewImports(t *testing.T) {
	r := newTestImportRegistry(t, &fakeGateway{}, nil)
	req := ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com"}

	called := false
	err := r.WithAccountLocked(sendxAccount.ID, func() error {
		called = true
		_, err := r.StartImport(context.Background(), req)
		assert.ErrorIs(t, err, ErrConflict)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	// the slot is released afterwards
	job, err := r.StartImport(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.ImportCompleted, waitTerminal(t, r, job.ID).Status)
}

func TestWithAccountLockedRefusesActiveImport(t *testing.T) {
	gated := newGatedGateway()
	r := newTestImportRegistry(t, gated, nil)

	job, err := r.StartImport(context.Background(), ImportRequest{AccountID: sendxAccount.ID, ListID: "l", RawContacts: "1@x.com"})
	require.NoError(t, err)

	called := false
	err = r.WithAccountLocked(sendxAccount.ID, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, called)

	<-gated.entered
	gated.gate <- struct{}{}
	assert.Equal(t, model.ImportCompleted, waitTerminal(t, r, job.ID).Status)

	failure := errors.New("store offline")
	err = r.WithAccountLocked(sendxAccount.ID, func() error { return failure })
	assert.ErrorIs(t, err, failure)
}
