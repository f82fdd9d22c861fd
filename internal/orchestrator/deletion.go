package orchestrator

import (
	"context"
	"espdesk/internal/events"
	"espdesk/internal/model"
	"espdesk/pkg/esp"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type DeletionOptions struct {
	PageSize int
	Clock    func() time.Time
}

// DeletionRunner empties provider lists in the background. Progress is
// written to the StatusStore, which callers poll.
type DeletionRunner struct {
	accounts  AccountSource
	gateways  *GatewayRegistry
	store     *StatusStore
	publisher events.Publisher
	pageSize  int
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeletionRunner(accounts AccountSource, gateways *GatewayRegistry, store *StatusStore, publisher events.Publisher, opts DeletionOptions) *DeletionRunner {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DeletionRunner{
		accounts:  accounts,
		gateways:  gateways,
		store:     store,
		publisher: publisher,
		pageSize:  opts.PageSize,
		now:       opts.Clock,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartDeleteAll resolves credentials synchronously, records the job as
// started and runs the deletion on a goroutine owned by the runner.
func (d *DeletionRunner) StartDeleteAll(ctx context.Context, accountID, listID string) (*model.DeletionJob, error) {
	if d.ctx.Err() != nil {
		return nil, fmt.Errorf("deletion runner is stopped")
	}
	if accountID == "" || listID == "" {
		return nil, fmt.Errorf("%w: account and list are required", ErrValidation)
	}

	_, gateway, cred, err := Resolve(ctx, d.accounts, d.gateways, accountID)
	if err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("Deletion rejected")
		return nil, err
	}

	now := d.now()
	job := model.DeletionJob{
		ID:        uuid.NewString(),
		AccountID: accountID,
		ListID:    listID,
		Status:    model.DeletionStarted,
		Message:   "Deletion started",
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.store.Put(job)
	d.publish(events.DeletionStarted, &job)

	d.wg.Add(1)
	go d.run(job.ID, gateway, cred, listID)

	log.Info().
		Str("jobId", job.ID).
		Str("accountId", accountID).
		Str("listId", listID).
		Msg("Deletion job started")

	return &job, nil
}

// GetStatus returns the snapshot of a deletion job
func (d *DeletionRunner) GetStatus(jobID string) (*model.DeletionJob, error) {
	return d.store.Get(jobID)
}

// Stop aborts running deletions and waits for them to record their state
func (d *DeletionRunner) Stop() {
	d.cancel()
	d.wg.Wait()
	log.Info().Msg("Deletion runner stopped")
}

func (d *DeletionRunner) run(jobID string, gateway Gateway, cred esp.Credential, listID string) {
	defer d.wg.Done()

	var progress float64
	if err := d.execute(jobID, gateway, cred, listID, &progress); err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Deletion job failed")
		d.update(jobID, func(job *model.DeletionJob) {
			job.Status = model.DeletionFailed
			job.Progress = progress
			job.Message = err.Error()
		})
		d.publishCurrent(jobID, events.DeletionFailed)
		return
	}

	d.publishCurrent(jobID, events.DeletionCompleted)
}

// execute walks the fetch and delete phases. progress tracks the last value
// written so a failure can keep it.
func (d *DeletionRunner) execute(jobID string, gateway Gateway, cred esp.Credential, listID string, progress *float64) error {
	total, err := gateway.GetSubscriberCount(d.ctx, cred, listID)
	if err != nil {
		return fmt.Errorf("failed to count subscribers: %w", err)
	}
	if total < 0 {
		return fmt.Errorf("failed to count subscribers: invalid count %d", total)
	}

	if total == 0 {
		*progress = 100
		d.update(jobID, func(job *model.DeletionJob) {
			job.Status = model.DeletionCompleted
			job.TotalCount = 0
			job.Progress = 100
			job.Message = "No subscribers to delete"
		})
		log.Info().Str("jobId", jobID).Msg("Deletion job found no subscribers")
		return nil
	}

	d.update(jobID, func(job *model.DeletionJob) {
		job.Status = model.DeletionFetching
		job.TotalCount = total
		job.Message = fmt.Sprintf("Fetching %d subscribers", total)
	})

	// the count is the provider's claim; grow from pages actually received
	addresses := make([]string, 0, min(total, d.pageSize))
	for offset := 0; len(addresses) < total; offset += d.pageSize {
		page, err := gateway.ListSubscriberPage(d.ctx, cred, listID, d.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to fetch subscribers at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			log.Warn().
				Str("jobId", jobID).
				Int("fetched", len(addresses)).
				Int("total", total).
				Msg("Provider returned an empty page before the expected total")
			break
		}

		addresses = append(addresses, page...)
		*progress = math.Min(50, float64(len(addresses))/float64(total)*50)

		fetched := len(addresses)
		current := *progress
		d.update(jobID, func(job *model.DeletionJob) {
			job.Progress = current
			job.Message = fmt.Sprintf("Fetched %d of %d subscribers", fetched, total)
		})
	}

	if len(addresses) > 0 {
		count := len(addresses)
		d.update(jobID, func(job *model.DeletionJob) {
			job.Status = model.DeletionDeleting
			job.Message = fmt.Sprintf("Deleting %d subscribers", count)
		})

		if err := gateway.DeleteSubscribers(d.ctx, cred, listID, addresses); err != nil {
			return fmt.Errorf("failed to delete subscribers: %w", err)
		}
	}

	*progress = 100
	d.update(jobID, func(job *model.DeletionJob) {
		job.Status = model.DeletionCompleted
		job.Progress = 100
		job.Message = fmt.Sprintf("Deleted %d subscribers", len(addresses))
	})

	log.Info().
		Str("jobId", jobID).
		Int("deleted", len(addresses)).
		Int("total", total).
		Msg("Deletion job completed")
	return nil
}

func (d *DeletionRunner) update(jobID string, fn func(job *model.DeletionJob)) {
	if err := d.store.Update(jobID, fn); err != nil {
		log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to update deletion status")
	}
}

func (d *DeletionRunner) publishCurrent(jobID string, eventType events.Type) {
	if job, ok := d.store.peek(jobID); ok {
		d.publish(eventType, job)
	}
}

func (d *DeletionRunner) publish(eventType events.Type, job *model.DeletionJob) {
	err := d.publisher.Publish(context.WithoutCancel(d.ctx), events.Event{
		Type:      eventType,
		JobID:     job.ID,
		AccountID: job.AccountID,
		ListID:    job.ListID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.Message,
		At:        d.now(),
	})
	if err != nil {
		log.Debug().Err(err).Str("jobId", job.ID).Msg("Job event not delivered")
	}
}
