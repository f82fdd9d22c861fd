package orchestrator

import (
	"context"
	"errors"
	"espdesk/internal/events"
	"espdesk/internal/model"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeletionRunner(t *testing.T, gateway *fakeGateway) (*DeletionRunner, *StatusStore, *recordingPublisher) {
	t.Helper()

	gateways := NewGatewayRegistry()
	gateways.Register(model.ProviderSendX, gateway)

	store := NewStatusStore(time.Minute, time.Hour, nil)
	publisher := &recordingPublisher{}
	d := NewDeletionRunner(newFakeAccounts(sendxAccount), gateways, store, publisher, DeletionOptions{PageSize: 100})
	t.Cleanup(d.Stop)
	return d, store, publisher
}

func waitDeletion(t *testing.T, store *StatusStore, jobID string) *model.DeletionJob {
	t.Helper()

	var job *model.DeletionJob
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = store.peek(jobID)
		return ok && job.IsTerminal()
	}, waitFor, tick)
	return job
}

func emails(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%03d@x.com", i)
	}
	return out
}

func TestDeleteAllEmptyList(t *testing.T) {
	gateway := &fakeGateway{count: 0}
	d, store, publisher := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeletionStarted, started.Status)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	assert.Empty(t, gateway.offsets())
	assert.Empty(t, gateway.deleted)

	require.Eventually(t, func() bool { return len(publisher.types()) == 2 }, waitFor, tick)
	assert.Equal(t, []events.Type{events.DeletionStarted, events.DeletionCompleted}, publisher.types())
}

func TestDeleteAllPagesAndDeletes(t *testing.T) {
	reached := make(chan struct{})
	release := make(chan struct{})

	gateway := &fakeGateway{
		count:       250,
		subscribers: emails(250),
		onDelete: func() {
			close(reached)
			<-release
		},
	}
	d, store, _ := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	select {
	case <-reached:
	case <-time.After(waitFor):
		t.Fatal("delete was never called")
	}

	during, ok := store.peek(started.ID)
	require.True(t, ok)
	assert.Equal(t, model.DeletionDeleting, during.Status)
	assert.Equal(t, float64(50), during.Progress)
	assert.Equal(t, 250, during.TotalCount)
	close(release)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	assert.Equal(t, []int{0, 100, 200}, gateway.offsets())
	assert.Equal(t, emails(250), gateway.deleted)
}

func TestDeleteAllStopsAtEmptyPage(t *testing.T) {
	gateway := &fakeGateway{count: 250, subscribers: emails(120)}
	d, store, _ := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionCompleted, job.Status)
	assert.Equal(t, []int{0, 100, 200}, gateway.offsets())
	assert.Len(t, gateway.deleted, 120)
}

func TestDeleteAllPageFailureKeepsProgress(t *testing.T) {
	gateway := &fakeGateway{count: 250, subscribers: emails(250), pageErrAt: 100}
	d, store, publisher := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionFailed, job.Status)
	assert.Equal(t, float64(20), job.Progress)
	assert.Contains(t, job.Message, "offset 100")
	assert.Empty(t, gateway.deleted)

	require.Eventually(t, func() bool { return len(publisher.types()) == 2 }, waitFor, tick)
	assert.Equal(t, events.DeletionFailed, publisher.types()[1])
}

func TestDeleteAllDeleteFailure(t *testing.T) {
	gateway := &fakeGateway{count: 10, subscribers: emails(10), deleteErr: errors.New("provider down")}
	d, store, _ := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionFailed, job.Status)
	assert.Equal(t, float64(50), job.Progress)
	assert.Contains(t, job.Message, "provider down")
}

func TestDeleteAllCountFailure(t *testing.T) {
	gateway := &fakeGateway{countErr: errors.New("timeout")}
	d, store, _ := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionFailed, job.Status)
	assert.Equal(t, float64(0), job.Progress)
}

func TestDeleteAllNegativeCount(t *testing.T) {
	gateway := &fakeGateway{count: -1}
	d, store, publisher := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionFailed, job.Status)
	assert.Equal(t, float64(0), job.Progress)
	assert.Contains(t, job.Message, "invalid count -1")
	assert.Empty(t, gateway.offsets())

	require.Eventually(t, func() bool { return len(publisher.types()) == 2 }, waitFor, tick)
	assert.Equal(t, events.DeletionFailed, publisher.types()[1])
}

func TestDeleteAllOversizedCount(t *testing.T) {
	gateway := &fakeGateway{count: 2_000_000_000, subscribers: emails(3)}
	d, store, _ := newTestDeletionRunner(t, gateway)

	started, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	job := waitDeletion(t, store, started.ID)
	assert.Equal(t, model.DeletionCompleted, job.Status)
	assert.Equal(t, 2_000_000_000, job.TotalCount)
	assert.Equal(t, emails(3), gateway.deleted)
}

func TestDeleteAllRejections(t *testing.T) {
	t.Run("authentication", func(t *testing.T) {
		d, store, publisher := newTestDeletionRunner(t, &fakeGateway{resolveErr: errBadKey})

		_, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.Equal(t, 0, store.Len())
		assert.Empty(t, publisher.types())
	})

	t.Run("unknown account", func(t *testing.T) {
		d, _, _ := newTestDeletionRunner(t, &fakeGateway{})

		_, err := d.StartDeleteAll(context.Background(), "acc_missing", "list-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing list", func(t *testing.T) {
		d, _, _ := newTestDeletionRunner(t, &fakeGateway{})

		_, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown job", func(t *testing.T) {
		d, _, _ := newTestDeletionRunner(t, &fakeGateway{})

		_, err := d.GetStatus("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeletionRunnerStop(t *testing.T) {
	release := make(chan struct{})
	gateway := &fakeGateway{
		count:       5,
		subscribers: emails(5),
		onDelete:    func() { <-release },
	}

	gateways := NewGatewayRegistry()
	gateways.Register(model.ProviderSendX, gateway)
	store := NewStatusStore(0, 0, nil)
	d := NewDeletionRunner(newFakeAccounts(sendxAccount), gateways, store, nil, DeletionOptions{})

	_, err := d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	require.NoError(t, err)

	close(release)
	d.Stop()

	_, err = d.StartDeleteAll(context.Background(), sendxAccount.ID, "list-1")
	assert.Error(t, err)
}
