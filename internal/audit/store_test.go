package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brightdesk/crm-engine/internal/domain"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewStore(db), mock, func() { db.Close() }
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO send_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.SendLogEntry{
		AutomationType: domain.AutomationSequence,
		AutomationID:   "seq-1",
		ContactEmail:   "jane@corp.example.com",
		Status:         domain.SendSent,
	}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if e.ID == "" {
		t.Error("Append should assign an ID")
	}
	if e.SentAt.IsZero() {
		t.Error("Append should assign SentAt")
	}
}

func TestUpdateDeliveryStatus_NotFound(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE send_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateDeliveryStatus(context.Background(), "missing", domain.SendBounced, "mailbox full")
	if err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_FilterCombinations(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	cols := []string{"id", "automation_type", "automation_id", "contact_type", "contact_id",
		"contact_email", "template_id", "action", "status", "error_message", "sent_at"}

	t.Run("no filters", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM send_log ORDER BY sent_at DESC").
			WithArgs(100, 0).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("log-1", "sequence", "seq-1", "people", "p-1", "a@b.example.com", "tpl-1", "", "sent", "", now))

		entries, err := s.Query(context.Background(), Filter{Limit: 100})
		if err != nil {
			t.Fatalf("Query() error: %v", err)
		}
		if len(entries) != 1 || entries[0].ID != "log-1" {
			t.Errorf("unexpected entries: %+v", entries)
		}
	})

	t.Run("type and status filters", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM send_log WHERE automation_type = (.+) AND status = (.+)").
			WithArgs("rule", "failed", 50, 10).
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := s.Query(context.Background(), Filter{
			AutomationType: domain.AutomationRule,
			Status:         domain.SendFailed,
			Limit:          50,
			Offset:         10,
		})
		if err != nil {
			t.Fatalf("Query() error: %v", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
