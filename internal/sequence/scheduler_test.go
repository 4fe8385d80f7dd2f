package sequence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brightdesk/crm-engine/internal/domain"
)

type fakeSender struct {
	sent []string // enrollment IDs
	err  error
}

func (f *fakeSender) SendStep(_ context.Context, _ *domain.EmailTemplate, e *domain.SequenceEnrollment, _ map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, e.ID)
	return "msg-1", nil
}

type fakeAuditor struct{ entries []domain.SendLogEntry }

func (f *fakeAuditor) Append(_ context.Context, e *domain.SendLogEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

type fakeLock struct {
	acquired bool
	calls    int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { f.calls++; return f.acquired, nil }
func (f *fakeLock) Release(context.Context) error         { return nil }

type fixture struct {
	sched   *Scheduler
	mock    sqlmock.Sqlmock
	sender  *fakeSender
	audit   *fakeAuditor
	lock    *fakeLock
	cleanup func()
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	f := &fixture{
		mock:    mock,
		sender:  &fakeSender{},
		audit:   &fakeAuditor{},
		lock:    &fakeLock{acquired: true},
		cleanup: func() { db.Close() },
	}
	store := NewStore(db, domain.NewRegistry())
	f.sched = NewScheduler(store, f.sender, f.audit, f.lock, time.Second, 50, 3)
	return f
}

func enrollmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "sequence_id", "contact_type", "contact_id", "contact_email",
		"status", "current_step", "next_send_at", "send_attempts", "completed_at", "created_at", "updated_at"})
}

func (f *fixture) expectClaim(rows *sqlmock.Rows) {
	f.mock.ExpectQuery("UPDATE sequence_enrollments SET in_flight = TRUE").
		WillReturnRows(rows)
}

func (f *fixture) expectSequence(id, name string, active bool, steps *sqlmock.Rows) {
	f.mock.ExpectQuery("SELECT id, name, is_active, created_at, updated_at FROM sequences").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active", "created_at", "updated_at"}).
			AddRow(id, name, active, time.Now(), time.Now()))
	f.mock.ExpectQuery("SELECT (.+) FROM sequence_steps").
		WithArgs(id).
		WillReturnRows(steps)
}

func stepRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "sequence_id", "step_order", "delay_days", "delay_hours", "template_id", "is_active"})
}

func (f *fixture) expectTemplate(id string) {
	f.mock.ExpectQuery("SELECT (.+) FROM email_templates").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "subject", "body_html", "body_text", "created_at", "updated_at"}).
			AddRow(id, "welcome", "Hi {{ first_name }}", "<p>hello</p>", "", time.Now(), time.Now()))
}

func (f *fixture) expectProfile() {
	f.mock.ExpectQuery("SELECT (.+) FROM people").
		WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}).AddRow("Jane", "Doe"))
}

// Enrollment at step 1 advances to step 3 (step 2 is inactive and skipped)
// with next_send_at two days out, matching step 3's delay.
func TestTick_AdvancesSkippingInactiveStep(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 1, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true).
		AddRow("st-2", "seq-1", 2, 1, 0, "tpl-2", false).
		AddRow("st-3", "seq-1", 3, 2, 0, "tpl-3", true))
	f.expectTemplate("tpl-1")
	f.expectProfile()
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET current_step").
		WithArgs("enr-1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(f.sender.sent))
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Status != domain.SendSent {
		t.Errorf("audit entries = %+v", f.audit.entries)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// Last step sent: the enrollment completes with completed_at stamped and
// next_send_at cleared.
func TestTick_TerminalCompletion(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 2, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true).
		AddRow("st-2", "seq-1", 2, 1, 0, "tpl-2", true))
	f.expectTemplate("tpl-2")
	f.expectProfile()
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET status = (.+) next_send_at = NULL, completed_at = NOW()").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(f.sender.sent))
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// No active step at the pointer means nothing left to send: complete
// without invoking the collaborator.
func TestTick_CompletesWithoutSendWhenNoActiveStep(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 5, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true))
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if len(f.sender.sent) != 0 {
		t.Errorf("no send expected, got %d", len(f.sender.sent))
	}
}

// Inactive sequences leave the enrollment untouched for a later tick.
func TestTick_SkipsInactiveSequence(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 1, now, 0, nil, now, now))
	f.expectSequence("seq-1", "paused", false, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true))
	f.mock.ExpectExec("UPDATE sequence_enrollments SET in_flight = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if len(f.sender.sent) != 0 {
		t.Errorf("no send expected for inactive sequence")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A failed send records the attempt and leaves the enrollment eligible for
// the next tick; the batch keeps going.
func TestTick_SendFailureLeavesEnrollmentForRetry(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	f.sender.err = &domain.CollaboratorError{Collaborator: "ses", Err: errors.New("throttled")}
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 1, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true))
	f.expectTemplate("tpl-1")
	f.expectProfile()
	f.mock.ExpectQuery("UPDATE sequence_enrollments\\s+SET send_attempts").
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"send_attempts"}).AddRow(1))

	f.sched.Tick(context.Background())

	if len(f.audit.entries) != 1 || f.audit.entries[0].Status != domain.SendFailed {
		t.Errorf("audit entries = %+v, want one failed", f.audit.entries)
	}
	h := f.sched.Health()
	if h.Errors != 1 {
		t.Errorf("Errors = %d, want 1", h.Errors)
	}
}

// After maxAttempts consecutive failures the enrollment transitions to
// failed instead of retrying forever.
func TestTick_FailsAfterMaxAttempts(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	f.sender.err = errors.New("permanent bounce")
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "bad@x.example.com",
			"active", 1, now, 2, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true))
	f.expectTemplate("tpl-1")
	f.expectProfile()
	f.mock.ExpectQuery("UPDATE sequence_enrollments\\s+SET send_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"send_attempts"}).AddRow(3))
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A claimed enrollment whose terminal update fails after a successful send
// must not stay claimed: the claim is released so the row is due again on
// the next tick.
func TestTick_CompleteFailureReleasesClaim(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 1, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true))
	f.expectTemplate("tpl-1")
	f.expectProfile()
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET status").
		WillReturnError(errors.New("connection reset"))
	f.mock.ExpectExec("UPDATE sequence_enrollments SET in_flight = FALSE").
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(f.sender.sent))
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("claim must be released after the update failure: %v", err)
	}
	if h := f.sched.Health(); h.Errors != 1 {
		t.Errorf("Errors = %d, want 1", h.Errors)
	}
}

// A failed advance releases the claim the same way.
func TestTick_AdvanceFailureReleasesClaim(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	now := time.Now()

	f.expectClaim(enrollmentRows().
		AddRow("enr-1", "seq-1", "people", "p-1", "jane@corp.example.com",
			"active", 1, now, 0, nil, now, now))
	f.expectSequence("seq-1", "welcome", true, stepRows().
		AddRow("st-1", "seq-1", 1, 0, 0, "tpl-1", true).
		AddRow("st-2", "seq-1", 2, 1, 0, "tpl-2", true))
	f.expectTemplate("tpl-1")
	f.expectProfile()
	f.mock.ExpectExec("UPDATE sequence_enrollments\\s+SET current_step").
		WillReturnError(errors.New("connection reset"))
	f.mock.ExpectExec("UPDATE sequence_enrollments SET in_flight = FALSE").
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.sched.Tick(context.Background())

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("claim must be released after the update failure: %v", err)
	}
}

// A claim left behind by a worker that died mid-batch is reclaimed once it
// is older than the stale window instead of being stranded in_flight.
func TestClaimDueBatch_ReclaimsStaleClaims(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	store := NewStore(db, domain.NewRegistry())
	now := time.Now()

	mock.ExpectQuery("in_flight = FALSE OR updated_at < NOW\\(\\) - make_interval").
		WithArgs("active", 10, 4.0).
		WillReturnRows(enrollmentRows().
			AddRow("enr-stale", "seq-1", "people", "p-1", "jane@corp.example.com",
				"active", 2, now, 0, nil, now, now))

	out, err := store.ClaimDueBatch(context.Background(), 10, 4*time.Second)
	if err != nil {
		t.Fatalf("ClaimDueBatch: %v", err)
	}
	if len(out) != 1 || out[0].ID != "enr-stale" {
		t.Errorf("claimed = %+v, want enr-stale", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// Without the lock, a tick does nothing: a concurrent deployment already
// owns the batch.
func TestTick_NoLockNoBatch(t *testing.T) {
	f := setup(t)
	defer f.cleanup()
	f.lock.acquired = false

	f.sched.Tick(context.Background())

	if f.lock.calls != 1 {
		t.Errorf("lock calls = %d", f.lock.calls)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no SQL should run without the lock: %v", err)
	}
}

func TestFindNextStep(t *testing.T) {
	steps := []domain.SequenceStep{
		{StepOrder: 1, IsActive: true},
		{StepOrder: 2, IsActive: false},
		{StepOrder: 3, IsActive: true},
	}
	if next := findNextStep(steps, 1); next == nil || next.StepOrder != 3 {
		t.Errorf("findNextStep(1) = %+v, want step 3", next)
	}
	if next := findNextStep(steps, 3); next != nil {
		t.Errorf("findNextStep(3) = %+v, want nil", next)
	}
}
