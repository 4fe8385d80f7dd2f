// Package sequence owns sequence definitions, enrollments, and the
// ticker-driven scheduler that advances each enrollment through its step
// state machine.
package sequence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/mailer"
	"github.com/brightdesk/crm-engine/internal/pkg/distlock"
)

// SendCollaborator delivers one rendered step. Satisfied by mailer.Mailer.
type SendCollaborator interface {
	SendStep(ctx context.Context, tmpl *domain.EmailTemplate, enrollment *domain.SequenceEnrollment, bindings map[string]any) (string, error)
}

// Auditor appends audit rows. Satisfied by audit.Store.
type Auditor interface {
	Append(ctx context.Context, e *domain.SendLogEntry) error
}

// Scheduler polls due enrollments on a timer and advances them. All durable
// state lives in the enrollment rows; the scheduler itself is stateless and
// safe to restart at any point.
type Scheduler struct {
	store       *Store
	mailer      SendCollaborator
	audit       Auditor
	lock        distlock.DistLock
	interval    time.Duration
	batchSize   int
	maxAttempts int

	totalProcessed int64
	totalErrors    int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	lastRunAt time.Time
	healthy   bool
	mu        sync.RWMutex
}

// NewScheduler wires a scheduler. maxAttempts bounds repeated send failures
// for one enrollment before it transitions to failed.
func NewScheduler(store *Store, sender SendCollaborator, audit Auditor, lock distlock.DistLock, interval time.Duration, batchSize, maxAttempts int) *Scheduler {
	return &Scheduler{
		store:       store,
		mailer:      sender,
		audit:       audit,
		lock:        lock,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		healthy:     true,
	}
}

// Start begins the tick loop.
func (sc *Scheduler) Start() {
	sc.mu.Lock()
	if sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = true
	sc.ctx, sc.cancel = context.WithCancel(context.Background())
	sc.mu.Unlock()

	log.Printf("[Scheduler] Starting (interval=%s, batch=%d)", sc.interval, sc.batchSize)
	sc.wg.Add(1)
	go sc.loop()
}

// Stop stops the loop and waits for the in-flight tick to finish.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = false
	sc.cancel()
	sc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("[Scheduler] Shutdown timeout - forcing stop")
	}
	log.Printf("[Scheduler] Stopped. Processed: %d, Errors: %d",
		atomic.LoadInt64(&sc.totalProcessed), atomic.LoadInt64(&sc.totalErrors))
}

func (sc *Scheduler) loop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			return
		case <-ticker.C:
			sc.Tick(sc.ctx)
		}
	}
}

// Tick runs one scheduling pass under the distributed lock. Exported so the
// worker binary and tests can drive passes directly.
func (sc *Scheduler) Tick(ctx context.Context) {
	acquired, err := sc.lock.Acquire(ctx)
	if err != nil {
		log.Printf("[Scheduler] Lock error: %v", err)
		sc.setHealthy(false)
		return
	}
	if !acquired {
		return
	}
	defer sc.lock.Release(ctx)

	if err := sc.runBatch(ctx); err != nil {
		log.Printf("[Scheduler] Batch error: %v", err)
		sc.setHealthy(false)
		return
	}
	sc.mu.Lock()
	sc.lastRunAt = time.Now()
	sc.healthy = true
	sc.mu.Unlock()
}

func (sc *Scheduler) runBatch(ctx context.Context) error {
	batch, err := sc.store.ClaimDueBatch(ctx, sc.batchSize, 2*sc.interval)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	log.Printf("[Scheduler] Claimed %d due enrollments", len(batch))

	// One definition load per sequence in the batch.
	defs := make(map[string]*domain.SequenceDefinition)
	for i := range batch {
		e := &batch[i]
		def, ok := defs[e.SequenceID]
		if !ok {
			def, err = sc.store.GetSequence(ctx, e.SequenceID)
			if err != nil {
				log.Printf("[Scheduler] Enrollment %s: sequence %s unavailable: %v", e.ID, e.SequenceID, err)
				sc.store.Release(ctx, e.ID)
				atomic.AddInt64(&sc.totalErrors, 1)
				continue
			}
			defs[e.SequenceID] = def
		}
		// Per-enrollment isolation: one failure never aborts the batch.
		if err := sc.processEnrollment(ctx, e, def); err != nil {
			atomic.AddInt64(&sc.totalErrors, 1)
		} else {
			atomic.AddInt64(&sc.totalProcessed, 1)
		}
	}
	return nil
}

// processEnrollment advances one claimed enrollment one step.
func (sc *Scheduler) processEnrollment(ctx context.Context, e *domain.SequenceEnrollment, def *domain.SequenceDefinition) error {
	// Inactive sequence: leave the enrollment untouched so it resumes if
	// the sequence reactivates.
	if !def.IsActive {
		return sc.store.Release(ctx, e.ID)
	}

	step := findStep(def.Steps, e.CurrentStep)
	if step == nil {
		// No active step at the pointer: nothing left to send.
		if err := sc.store.Complete(ctx, e.ID); err != nil {
			sc.releaseClaim(ctx, e.ID, err)
			return err
		}
		log.Printf("[Scheduler] Enrollment %s completed (no active step %d)", e.ID, e.CurrentStep)
		return nil
	}

	tmpl, err := sc.store.GetTemplate(ctx, step.TemplateID)
	if err != nil {
		sc.recordSendFailure(ctx, e, step, fmt.Errorf("template %s: %w", step.TemplateID, err))
		return fmt.Errorf("load template: %w", err)
	}

	first, last := sc.store.ContactProfile(ctx, e.ContactType, e.ContactID)
	bindings := mailer.ContactBindings(e.ContactEmail, first, last, nil)

	messageID, err := sc.mailer.SendStep(ctx, tmpl, e, bindings)
	if err != nil {
		sc.recordSendFailure(ctx, e, step, err)
		return err
	}

	sc.appendAudit(ctx, e, step, domain.SendSent, "")
	log.Printf("[Scheduler] Enrollment %s step %d sent (message %s)", e.ID, e.CurrentStep, messageID)

	next := findNextStep(def.Steps, e.CurrentStep)
	if next == nil {
		if err := sc.store.Complete(ctx, e.ID); err != nil {
			sc.releaseClaim(ctx, e.ID, err)
			return err
		}
		return nil
	}
	if err := sc.store.Advance(ctx, e.ID, next.StepOrder, time.Now().Add(next.Delay())); err != nil {
		sc.releaseClaim(ctx, e.ID, err)
		return err
	}
	return nil
}

// releaseClaim frees a claimed enrollment after a state update failed, so
// the row stays eligible on the next tick instead of staying claimed
// forever. Best effort: if the release itself fails, the stale-claim
// reclaim in ClaimDueBatch recovers the row.
func (sc *Scheduler) releaseClaim(ctx context.Context, id string, cause error) {
	log.Printf("[Scheduler] Enrollment %s: state update failed (%v), releasing claim", id, cause)
	if err := sc.store.Release(ctx, id); err != nil {
		log.Printf("[Scheduler] Enrollment %s: release failed: %v", id, err)
	}
}

// recordSendFailure audits the failed attempt and either leaves the
// enrollment due for the next tick or fails it after maxAttempts.
func (sc *Scheduler) recordSendFailure(ctx context.Context, e *domain.SequenceEnrollment, step *domain.SequenceStep, sendErr error) {
	sc.appendAudit(ctx, e, step, domain.SendFailed, sendErr.Error())
	attempts, err := sc.store.RecordSendFailure(ctx, e.ID)
	if err != nil {
		sc.releaseClaim(ctx, e.ID, fmt.Errorf("record send failure: %w", err))
		return
	}
	if sc.maxAttempts > 0 && attempts >= sc.maxAttempts {
		if err := sc.store.Fail(ctx, e.ID); err != nil {
			log.Printf("[Scheduler] Enrollment %s: failed to transition to failed: %v", e.ID, err)
			return
		}
		log.Printf("[Scheduler] Enrollment %s failed after %d send attempts", e.ID, attempts)
	}
}

func (sc *Scheduler) appendAudit(ctx context.Context, e *domain.SequenceEnrollment, step *domain.SequenceStep, status domain.SendStatus, errMsg string) {
	entry := &domain.SendLogEntry{
		AutomationType: domain.AutomationSequence,
		AutomationID:   e.SequenceID,
		ContactType:    e.ContactType,
		ContactID:      e.ContactID,
		ContactEmail:   e.ContactEmail,
		TemplateID:     step.TemplateID,
		Action:         fmt.Sprintf("step_%d", step.StepOrder),
		Status:         status,
		ErrorMessage:   errMsg,
	}
	if err := sc.audit.Append(ctx, entry); err != nil {
		log.Printf("[Scheduler] Failed to write audit entry for enrollment %s: %v", e.ID, err)
	}
}

// findStep returns the active step at exactly the given order.
func findStep(steps []domain.SequenceStep, order int) *domain.SequenceStep {
	for i := range steps {
		if steps[i].StepOrder == order && steps[i].IsActive {
			return &steps[i]
		}
	}
	return nil
}

// findNextStep returns the first active step with a strictly greater order.
func findNextStep(steps []domain.SequenceStep, order int) *domain.SequenceStep {
	var next *domain.SequenceStep
	for i := range steps {
		s := &steps[i]
		if !s.IsActive || s.StepOrder <= order {
			continue
		}
		if next == nil || s.StepOrder < next.StepOrder {
			next = s
		}
	}
	return next
}

func (sc *Scheduler) setHealthy(h bool) {
	sc.mu.Lock()
	sc.healthy = h
	sc.mu.Unlock()
}

// Health is the scheduler's state for the health endpoint.
type Health struct {
	Running   bool      `json:"running"`
	Healthy   bool      `json:"healthy"`
	LastRunAt time.Time `json:"last_run_at"`
	Processed int64     `json:"processed"`
	Errors    int64     `json:"errors"`
}

// Health reports the scheduler's current state.
func (sc *Scheduler) Health() Health {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return Health{
		Running:   sc.running,
		Healthy:   sc.healthy,
		LastRunAt: sc.lastRunAt,
		Processed: atomic.LoadInt64(&sc.totalProcessed),
		Errors:    atomic.LoadInt64(&sc.totalErrors),
	}
}
