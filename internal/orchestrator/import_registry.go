package orchestrator

import (
	"context"
	"errors"
	"espdesk/internal/events"
	"espdesk/internal/model"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ImportRequest is the input of StartImport
type ImportRequest struct {
	AccountID    string  `json:"account_id"`
	ListID       string  `json:"list_id"`
	ListName     string  `json:"list_name"`
	RawContacts  string  `json:"raw_contacts"`
	DelaySeconds float64 `json:"delay_seconds"`
}

type ImportOptions struct {
	// MaxDelay bounds the inter-contact delay a request may ask for
	MaxDelay time.Duration
	// TickInterval is how often running jobs gain one elapsed second
	TickInterval time.Duration
	Clock        func() time.Time
}

// ImportRegistry runs bulk imports, at most one active job per account.
// Job goroutines belong to the registry, not to the request that started
// them, and are stopped by Stop.
type ImportRegistry struct {
	accounts  AccountSource
	gateways  *GatewayRegistry
	publisher events.Publisher
	opts      ImportOptions

	mu        sync.RWMutex
	jobs      map[string]*importJob
	byAccount map[string]string
	reserved  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewImportRegistry(accounts AccountSource, gateways *GatewayRegistry, publisher events.Publisher, opts ImportOptions) *ImportRegistry {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Hour
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ImportRegistry{
		accounts:  accounts,
		gateways:  gateways,
		publisher: publisher,
		opts:      opts,
		jobs:      make(map[string]*importJob),
		byAccount: make(map[string]string),
		reserved:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the elapsed-time ticker. It stops with ctx or Stop.
func (r *ImportRegistry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.opts.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.tickElapsed()
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels every running job and waits for their goroutines
func (r *ImportRegistry) Stop() {
	r.cancel()
	r.wg.Wait()
	log.Info().Msg("Import registry stopped")
}

func (r *ImportRegistry) tickElapsed() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		job.tick()
	}
}

// StartImport validates the request, claims the account's import slot,
// resolves credentials and launches the job. It returns before the first
// contact is sent.
func (r *ImportRegistry) StartImport(ctx context.Context, req ImportRequest) (*model.ImportJob, error) {
	if r.ctx.Err() != nil {
		return nil, fmt.Errorf("import registry is stopped")
	}

	contacts := ParseContacts(req.RawContacts)
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: no contacts to import", ErrValidation)
	}
	if req.AccountID == "" || req.ListID == "" {
		return nil, fmt.Errorf("%w: account and list are required", ErrValidation)
	}
	if req.DelaySeconds < 0 || time.Duration(req.DelaySeconds*float64(time.Second)) > r.opts.MaxDelay {
		return nil, fmt.Errorf("%w: delay must be between 0 and %s", ErrValidation, r.opts.MaxDelay)
	}

	if err := r.reserve(req.AccountID); err != nil {
		return nil, err
	}
	defer r.release(req.AccountID)

	_, gateway, cred, err := Resolve(ctx, r.accounts, r.gateways, req.AccountID)
	if err != nil {
		log.Warn().Err(err).Str("accountId", req.AccountID).Msg("Import rejected")
		return nil, err
	}

	job := newImportJob(uuid.NewString(), req, contacts, gateway, cred, r.opts.Clock())

	r.mu.Lock()
	if previous, ok := r.byAccount[req.AccountID]; ok {
		// previous job is terminal, otherwise reserve would have failed
		delete(r.jobs, previous)
	}
	r.jobs[job.id] = job
	r.byAccount[req.AccountID] = job.id
	r.wg.Add(1)
	r.mu.Unlock()

	snap := job.snapshot()
	r.publish(events.ImportStarted, snap, "")

	go r.run(job)

	log.Info().
		Str("jobId", job.id).
		Str("accountId", req.AccountID).
		Str("listId", req.ListID).
		Int("contacts", len(contacts)).
		Float64("delaySeconds", req.DelaySeconds).
		Msg("Import job started")

	return snap, nil
}

// reserve claims the import slot of an account while credentials are resolved
func (r *ImportRegistry) reserve(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, pending := r.reserved[accountID]; pending {
		return fmt.Errorf("%w: an import is already starting for account %s", ErrConflict, accountID)
	}
	if id, ok := r.byAccount[accountID]; ok {
		if job, exists := r.jobs[id]; exists && job.isActive() {
			return fmt.Errorf("%w: import %s is already active for account %s", ErrConflict, id, accountID)
		}
	}

	r.reserved[accountID] = struct{}{}
	return nil
}

func (r *ImportRegistry) release(accountID string) {
	r.mu.Lock()
	delete(r.reserved, accountID)
	r.mu.Unlock()
}

// WithAccountLocked runs fn while holding the account's import slot, so no
// import can start for the account until fn returns. It fails with
// ErrConflict without calling fn when an import is active or starting.
func (r *ImportRegistry) WithAccountLocked(accountID string, fn func() error) error {
	if err := r.reserve(accountID); err != nil {
		return err
	}
	defer r.release(accountID)

	return fn()
}

func (r *ImportRegistry) run(job *importJob) {
	defer r.wg.Done()

	logger := log.With().Str("jobId", job.id).Str("accountId", job.accountID).Logger()

	for i, contact := range job.contacts {
		if job.isCancelRequested() {
			r.finish(job, model.ImportCancelled)
			return
		}

		if !r.waitWhilePaused(job) {
			r.finish(job, model.ImportCancelled)
			return
		}

		if i > 0 && job.delay() > 0 {
			if !r.sleep(job, job.delay()) {
				r.finish(job, model.ImportCancelled)
				return
			}
		}

		// in-flight sends run to completion even if cancel arrives meanwhile
		payload, err := job.gateway.SendContact(r.ctx, job.cred, contact, job.listID)
		if job.record(i+1, contact, payload, err, r.opts.Clock()) == model.OutcomeFailure {
			logger.Warn().Err(err).Int("index", i+1).Str("email", contact.Email).Msg("Contact import failed")
		} else {
			logger.Debug().Int("index", i+1).Str("email", contact.Email).Msg("Contact imported")
		}
	}

	r.finish(job, model.ImportCompleted)
}

// waitWhilePaused blocks while the job is paused. It returns false when
// the job should stop instead of processing the next contact.
func (r *ImportRegistry) waitWhilePaused(job *importJob) bool {
	for {
		if job.isCancelRequested() || r.ctx.Err() != nil {
			return false
		}
		if !job.isPaused() {
			return true
		}

		select {
		case <-job.resumeCh:
		case <-job.cancelCh:
		case <-r.ctx.Done():
		}
	}
}

// sleep waits out the inter-contact delay. Pause does not interrupt it.
func (r *ImportRegistry) sleep(job *importJob, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !job.isCancelRequested()
	case <-job.cancelCh:
		return false
	case <-r.ctx.Done():
		return false
	}
}

func (r *ImportRegistry) finish(job *importJob, status model.ImportJobStatus) {
	job.finish(status, r.opts.Clock())
	snap := job.snapshot()

	event := events.ImportCompleted
	message := ""
	if status == model.ImportCancelled {
		event = events.ImportCancelled
		if r.ctx.Err() != nil && !snap.CancelRequested {
			message = "stopped by shutdown"
		}
	}

	log.Info().
		Str("jobId", snap.ID).
		Str("accountId", snap.AccountID).
		Str("status", string(status)).
		Int("processed", len(snap.Results)).
		Int("total", snap.TotalContacts).
		Int("failures", snap.FailureCount()).
		Int("elapsedSeconds", snap.ElapsedSeconds).
		Msg("Import job finished")

	r.publish(event, snap, message)
}

func (r *ImportRegistry) lookup(jobID string) (*importJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: import job %s", ErrNotFound, jobID)
	}
	return job, nil
}

func (r *ImportRegistry) Pause(jobID string) (*model.ImportJob, error) {
	job, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if err := job.pause(r.opts.Clock()); err != nil {
		return nil, err
	}

	snap := job.snapshot()
	log.Info().Str("jobId", jobID).Msg("Import job paused")
	r.publish(events.ImportPaused, snap, "")
	return snap, nil
}

func (r *ImportRegistry) Resume(jobID string) (*model.ImportJob, error) {
	job, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if err := job.resume(r.opts.Clock()); err != nil {
		return nil, err
	}

	snap := job.snapshot()
	log.Info().Str("jobId", jobID).Msg("Import job resumed")
	r.publish(events.ImportResumed, snap, "")
	return snap, nil
}

// Cancel requests cancellation. The job turns cancelled once its goroutine
// reaches the next checkpoint.
func (r *ImportRegistry) Cancel(jobID string) (*model.ImportJob, error) {
	job, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}

	requested, err := job.requestCancel(r.opts.Clock())
	if err != nil {
		return nil, err
	}
	if requested {
		log.Info().Str("jobId", jobID).Msg("Import job cancellation requested")
	}

	return job.snapshot(), nil
}

func (r *ImportRegistry) Get(jobID string) (*model.ImportJob, error) {
	job, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return job.snapshot(), nil
}

// ActiveForAccount returns the running or paused job of an account
func (r *ImportRegistry) ActiveForAccount(accountID string) (*model.ImportJob, bool) {
	r.mu.RLock()
	id, ok := r.byAccount[accountID]
	job := r.jobs[id]
	r.mu.RUnlock()

	if !ok || job == nil || !job.isActive() {
		return nil, false
	}
	return job.snapshot(), true
}

// List returns every known job, newest first
func (r *ImportRegistry) List() []model.ImportJob {
	r.mu.RLock()
	jobs := make([]*importJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.RUnlock()

	snaps := make([]model.ImportJob, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, *job.snapshot())
	}

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID > snaps[j].ID
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Remove forgets a finished job
func (r *ImportRegistry) Remove(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: import job %s", ErrNotFound, jobID)
	}
	if job.isActive() {
		return fmt.Errorf("%w: import job %s is still active", ErrInvalidState, jobID)
	}

	delete(r.jobs, jobID)
	if r.byAccount[job.accountID] == jobID {
		delete(r.byAccount, job.accountID)
	}
	return nil
}

func (r *ImportRegistry) publish(eventType events.Type, snap *model.ImportJob, message string) {
	err := r.publisher.Publish(context.WithoutCancel(r.ctx), events.Event{
		Type:      eventType,
		JobID:     snap.ID,
		AccountID: snap.AccountID,
		ListID:    snap.ListID,
		Status:    string(snap.Status),
		Progress:  snap.Progress,
		Message:   message,
		At:        r.opts.Clock(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("jobId", snap.ID).Msg("Job event not delivered")
	}
}
