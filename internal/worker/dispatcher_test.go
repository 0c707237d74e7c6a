package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/telegram"
)

type mockQueue struct {
	due     []*db.Notification
	listErr error
	delErr  error

	deleted []uuid.UUID
}

func (m *mockQueue) ListDueNotifications(ctx context.Context, now time.Time) ([]*db.Notification, error) {
	return m.due, m.listErr
}

func (m *mockQueue) DeleteNotifications(ctx context.Context, ids []uuid.UUID) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.deleted = append(m.deleted, ids...)
	return nil
}

type flakySender struct {
	failFor map[int64]error
	sent    []int64
}

func (s *flakySender) Send(ctx context.Context, notif *db.Notification) error {
	if err := s.failFor[notif.UserID]; err != nil {
		return err
	}
	s.sent = append(s.sent, notif.UserID)
	return nil
}

func notif(userID int64) *db.Notification {
	return &db.Notification{ID: uuid.New(), UserID: userID, Text: "hello"}
}

func TestDispatchDue_DeliversAndDeletes(t *testing.T) {
	n1, n2 := notif(1), notif(2)
	queue := &mockQueue{due: []*db.Notification{n1, n2}}
	sender := &flakySender{}
	d := NewDispatcher(queue, sender, zap.NewNop())

	delivered, failed, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if delivered != 2 || failed != 0 {
		t.Fatalf("delivered=%d failed=%d", delivered, failed)
	}
	if len(queue.deleted) != 2 {
		t.Fatalf("deleted %d rows, want 2", len(queue.deleted))
	}
}

func TestDispatchDue_EmptyQueueIsNoop(t *testing.T) {
	queue := &mockQueue{}
	d := NewDispatcher(queue, &flakySender{}, zap.NewNop())

	delivered, failed, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if delivered != 0 || failed != 0 {
		t.Fatalf("delivered=%d failed=%d", delivered, failed)
	}
}

func TestDispatchDue_FailedRecipientStaysQueued(t *testing.T) {
	n1, n2, n3 := notif(1), notif(2), notif(3)
	queue := &mockQueue{due: []*db.Notification{n1, n2, n3}}
	sender := &flakySender{failFor: map[int64]error{2: errors.New("chat blocked")}}
	d := NewDispatcher(queue, sender, zap.NewNop())

	delivered, failed, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("per-recipient failures must not fail the pass: %v", err)
	}
	if delivered != 2 || failed != 1 {
		t.Fatalf("delivered=%d failed=%d", delivered, failed)
	}

	// Only the delivered rows may be removed; user 2's row must survive
	// for the next tick.
	for _, id := range queue.deleted {
		if id == n2.ID {
			t.Fatal("failed notification was deleted")
		}
	}
	if len(queue.deleted) != 2 {
		t.Fatalf("deleted %d rows, want 2", len(queue.deleted))
	}
}

func TestDispatchDue_UnauthorizedAbortsPass(t *testing.T) {
	n1, n2 := notif(1), notif(2)
	queue := &mockQueue{due: []*db.Notification{n1, n2}}
	sender := &flakySender{failFor: map[int64]error{1: telegram.ErrUnauthorized, 2: telegram.ErrUnauthorized}}
	d := NewDispatcher(queue, sender, zap.NewNop())

	_, _, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if !errors.Is(err, telegram.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent to %d recipients after credentials were rejected", len(sender.sent))
	}
	if len(queue.deleted) != 0 {
		t.Fatal("nothing was delivered, so nothing may be deleted")
	}
}

func TestDispatchDue_UnauthorizedStillDeletesDelivered(t *testing.T) {
	n1, n2, n3 := notif(1), notif(2), notif(3)
	queue := &mockQueue{due: []*db.Notification{n1, n2, n3}}
	sender := &flakySender{failFor: map[int64]error{2: telegram.ErrUnauthorized}}
	d := NewDispatcher(queue, sender, zap.NewNop())

	delivered, _, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if !errors.Is(err, telegram.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered=%d, want 1", delivered)
	}
	// Whatever went out before the abort must come off the queue so it is
	// not re-sent when the pass is retried.
	if len(queue.deleted) != 1 || queue.deleted[0] != n1.ID {
		t.Fatalf("deleted=%v, want exactly [%s]", queue.deleted, n1.ID)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent to %d recipients, want 1", len(sender.sent))
	}
}

func TestDispatchDue_ListFailureIsFatal(t *testing.T) {
	queue := &mockQueue{listErr: errors.New("db down")}
	d := NewDispatcher(queue, &flakySender{}, zap.NewNop())

	if _, _, err := d.DispatchDue(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDispatchDue_DeleteFailureKeepsAtLeastOnce(t *testing.T) {
	queue := &mockQueue{due: []*db.Notification{notif(1)}, delErr: errors.New("db down")}
	sender := &flakySender{}
	d := NewDispatcher(queue, sender, zap.NewNop())

	delivered, _, err := d.DispatchDue(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected error")
	}
	// The send happened; the row stays queued and will go out again.
	if delivered != 1 || len(sender.sent) != 1 {
		t.Fatalf("delivered=%d sent=%d", delivered, len(sender.sent))
	}
}

func TestLogSender_AlwaysSucceeds(t *testing.T) {
	s := NewLogSender(zap.NewNop())
	if err := s.Send(context.Background(), notif(42)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}
