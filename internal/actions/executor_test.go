package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brightdesk/crm-engine/internal/domain"
)

type fakeLinker struct {
	linked   []string
	unlinked []string
	fail     bool
}

func (f *fakeLinker) Link(_ context.Context, eventID string, table domain.EntityTable, entityID string) error {
	if f.fail {
		return errors.New("link store unavailable")
	}
	f.linked = append(f.linked, eventID+"/"+string(table)+"/"+entityID)
	return nil
}

func (f *fakeLinker) Unlink(_ context.Context, eventID string) error {
	f.unlinked = append(f.unlinked, eventID)
	return nil
}

type fakeEnroller struct {
	calls   int
	created bool
	err     error
}

func (f *fakeEnroller) Enroll(context.Context, string, domain.EntityTable, string) (bool, error) {
	f.calls++
	return f.created, f.err
}

type fakeResetter struct{ reset []string }

func (f *fakeResetter) ResetToPending(_ context.Context, eventID string) error {
	f.reset = append(f.reset, eventID)
	return nil
}

type fakeAuditor struct{ entries []domain.SendLogEntry }

func (f *fakeAuditor) Append(_ context.Context, e *domain.SendLogEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func setupExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock, *fakeLinker, *fakeEnroller, *fakeResetter, *fakeAuditor, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	linker := &fakeLinker{}
	enroller := &fakeEnroller{created: true}
	resetter := &fakeResetter{}
	auditor := &fakeAuditor{}
	x := NewExecutor(NewStore(db), linker, enroller, resetter, auditor)
	return x, mock, linker, enroller, resetter, auditor, func() { db.Close() }
}

func testEvent() *domain.RawEvent {
	return &domain.RawEvent{ID: "evt-1", Source: domain.SourceEmail}
}

func testTarget() Target {
	return Target{Table: domain.TablePeople, EntityID: "person-1", Email: "jane@corp.example.com"}
}

func TestExecute_PartialFailureIsolation(t *testing.T) {
	x, mock, linker, enroller, _, auditor, cleanup := setupExecutor(t)
	defer cleanup()
	linker.fail = true

	// Action 1 (tag) succeeds, action 2 (link) fails, action 3 (enroll) must
	// still run.
	mock.ExpectExec("INSERT INTO entity_tags").
		WillReturnResult(sqlmock.NewResult(0, 1))

	acts := []domain.RuleAction{
		{Type: domain.ActionTag, Config: map[string]string{"tag": "vip"}},
		{Type: domain.ActionLinkEntity, Config: map[string]string{"entity_table": "senders", "entity_id": "s-1"}},
		{Type: domain.ActionEnrollSequence, Config: map[string]string{"sequence_id": "seq-1"}},
	}
	results := x.Execute(context.Background(), testEvent(), testTarget(), acts)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success {
		t.Errorf("tag action should succeed: %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("link action should fail with recorded error: %+v", results[1])
	}
	if !results[2].Success {
		t.Errorf("enroll action should run despite earlier failure: %+v", results[2])
	}
	if enroller.calls != 1 {
		t.Errorf("enroller called %d times, want 1", enroller.calls)
	}

	// One audit row per attempt, including the failure
	if len(auditor.entries) != 3 {
		t.Fatalf("got %d audit entries, want 3", len(auditor.entries))
	}
	if auditor.entries[1].Status != domain.SendFailed || auditor.entries[1].ErrorMessage == "" {
		t.Errorf("failed attempt audit entry = %+v, want failed with message", auditor.entries[1])
	}
	if auditor.entries[0].Status != domain.SendSent || auditor.entries[0].Action != "tag" {
		t.Errorf("success audit entry = %+v", auditor.entries[0])
	}
}

func TestExecute_EnrollAlreadyActive(t *testing.T) {
	x, _, _, enroller, _, auditor, cleanup := setupExecutor(t)
	defer cleanup()
	enroller.created = false

	results := x.Execute(context.Background(), testEvent(), testTarget(), []domain.RuleAction{
		{Type: domain.ActionEnrollSequence, Config: map[string]string{"sequence_id": "seq-1"}},
	})
	if !results[0].Success {
		t.Errorf("duplicate enrollment is not a failure: %+v", results[0])
	}
	if auditor.entries[0].Status != domain.SendSent {
		t.Errorf("audit entry = %+v, want sent", auditor.entries[0])
	}
}

func TestExecute_ResetProcessingCascades(t *testing.T) {
	x, mock, linker, _, resetter, _, cleanup := setupExecutor(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM entity_tags").
		WillReturnResult(sqlmock.NewResult(0, 2))

	results := x.Execute(context.Background(), testEvent(), testTarget(), []domain.RuleAction{
		{Type: domain.ActionResetProcessing},
	})
	if !results[0].Success {
		t.Fatalf("reset action failed: %+v", results[0])
	}
	if len(linker.unlinked) != 1 || linker.unlinked[0] != "evt-1" {
		t.Errorf("links not cleared: %+v", linker.unlinked)
	}
	if len(resetter.reset) != 1 || resetter.reset[0] != "evt-1" {
		t.Errorf("event not reset: %+v", resetter.reset)
	}
}

func TestExecute_MisconfiguredActionFails(t *testing.T) {
	x, _, _, _, _, auditor, cleanup := setupExecutor(t)
	defer cleanup()

	results := x.Execute(context.Background(), testEvent(), testTarget(), []domain.RuleAction{
		{Type: domain.ActionTag}, // missing tag name
		{Type: "explode"},        // unknown type
	})
	for i, r := range results {
		if r.Success {
			t.Errorf("action %d should fail: %+v", i, r)
		}
	}
	if len(auditor.entries) != 2 {
		t.Errorf("got %d audit entries, want 2", len(auditor.entries))
	}
}
