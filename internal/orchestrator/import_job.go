package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"espdesk/internal/model"
	"espdesk/pkg/esp"
	"fmt"
	"sync"
	"time"
)

// importJob owns the mutable state of one import. Every mutation goes
// through its mutex; the processing goroutine, the control calls and the
// elapsed ticker only touch it through these methods.
type importJob struct {
	mu sync.Mutex

	id        string
	accountID string
	listID    string
	listName  string

	status          model.ImportJobStatus
	cancelRequested bool
	progress        float64
	results         []model.ImportResult
	elapsed         int
	delaySeconds    float64
	createdAt       time.Time
	updatedAt       time.Time
	completedAt     *time.Time

	contacts []model.Contact
	gateway  Gateway
	cred     esp.Credential

	// closed once when cancellation is requested
	cancelCh chan struct{}
	// signalled on resume; buffered so resume never blocks
	resumeCh chan struct{}
}

func newImportJob(id string, req ImportRequest, contacts []model.Contact, gateway Gateway, cred esp.Credential, now time.Time) *importJob {
	return &importJob{
		id:           id,
		accountID:    req.AccountID,
		listID:       req.ListID,
		listName:     req.ListName,
		status:       model.ImportRunning,
		results:      make([]model.ImportResult, 0, len(contacts)),
		delaySeconds: req.DelaySeconds,
		createdAt:    now,
		updatedAt:    now,
		contacts:     contacts,
		gateway:      gateway,
		cred:         cred,
		cancelCh:     make(chan struct{}),
		resumeCh:     make(chan struct{}, 1),
	}
}

func (j *importJob) delay() time.Duration {
	return time.Duration(j.delaySeconds * float64(time.Second))
}

// snapshot returns a copy with results ordered most recent first
func (j *importJob) snapshot() *model.ImportJob {
	j.mu.Lock()
	defer j.mu.Unlock()

	results := make([]model.ImportResult, len(j.results))
	for i, r := range j.results {
		results[len(j.results)-1-i] = r
	}

	snap := &model.ImportJob{
		ID:              j.id,
		AccountID:       j.accountID,
		ListID:          j.listID,
		ListName:        j.listName,
		Status:          j.status,
		CancelRequested: j.cancelRequested,
		Progress:        j.progress,
		Results:         results,
		TotalContacts:   len(j.contacts),
		ElapsedSeconds:  j.elapsed,
		DelaySeconds:    j.delaySeconds,
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
	}
	if j.completedAt != nil {
		completedAt := *j.completedAt
		snap.CompletedAt = &completedAt
	}
	return snap
}

func (j *importJob) isActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == model.ImportRunning || j.status == model.ImportPaused
}

func (j *importJob) isCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

func (j *importJob) isPaused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == model.ImportPaused
}

func (j *importJob) pause(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != model.ImportRunning || j.cancelRequested {
		return fmt.Errorf("%w: cannot pause job %s in state %s", ErrInvalidState, j.id, j.describeState())
	}

	j.status = model.ImportPaused
	j.updatedAt = now
	return nil
}

func (j *importJob) resume(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != model.ImportPaused || j.cancelRequested {
		return fmt.Errorf("%w: cannot resume job %s in state %s", ErrInvalidState, j.id, j.describeState())
	}

	j.status = model.ImportRunning
	j.updatedAt = now

	select {
	case j.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// requestCancel flags the job for cancellation. It reports false when a
// cancellation was already pending.
func (j *importJob) requestCancel(now time.Time) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != model.ImportRunning && j.status != model.ImportPaused {
		return false, fmt.Errorf("%w: cannot cancel job %s in state %s", ErrInvalidState, j.id, j.status)
	}
	if j.cancelRequested {
		return false, nil
	}

	j.cancelRequested = true
	j.updatedAt = now
	close(j.cancelCh)
	return true, nil
}

func (j *importJob) describeState() string {
	if j.cancelRequested {
		return string(j.status) + " (cancelling)"
	}
	return string(j.status)
}

// record appends the result of the contact at 1-based index and
// recomputes progress from the processed count.
func (j *importJob) record(index int, contact model.Contact, payload json.RawMessage, err error, now time.Time) model.ImportOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := model.ImportResult{
		Index:     index,
		Email:     contact.Email,
		Outcome:   model.OutcomeSuccess,
		Payload:   successPayload(payload),
		Timestamp: now,
	}
	if err != nil {
		result.Outcome = model.OutcomeFailure
		result.Payload = failurePayload(err)
	}

	j.results = append(j.results, result)
	j.progress = float64(len(j.results)) / float64(len(j.contacts)) * 100
	j.updatedAt = now

	return result.Outcome
}

func (j *importJob) finish(status model.ImportJobStatus, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = status
	if status == model.ImportCompleted {
		j.progress = 100
	}
	j.updatedAt = now
	j.completedAt = &now
}

// tick advances the elapsed counter of a running job
func (j *importJob) tick() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == model.ImportRunning {
		j.elapsed++
	}
}

func successPayload(payload json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// failurePayload keeps the provider's error body when it is JSON so the
// operator sees exactly what the provider answered.
func failurePayload(err error) json.RawMessage {
	var apiErr *esp.APIError
	if errors.As(err, &apiErr) {
		body := bytes.TrimSpace(apiErr.Body)
		if len(body) > 0 && json.Valid(body) {
			return json.RawMessage(body)
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"error":  err.Error(),
			"status": apiErr.StatusCode,
		})
		return payload
	}

	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return payload
}
