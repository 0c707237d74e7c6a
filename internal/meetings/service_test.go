package meetings

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"mentorhub/internal/db"
)

func testService(store *mockStore, grace time.Duration) *Service {
	r := NewReconciler(store, grace, zap.NewNop())
	return NewService(store, r, Config{
		ReminderLead: 5 * time.Minute,
		Grace:        grace,
		LocalZone:    time.FixedZone("local", 3*60*60),
	}, zap.NewNop())
}

func tasksByKind(tasks []*db.ScheduledTask) map[db.TaskKind]*db.ScheduledTask {
	byKind := make(map[db.TaskKind]*db.ScheduledTask)
	for _, task := range tasks {
		byKind[task.Kind] = task
	}
	return byKind
}

func TestCreate_SchedulesAllThreeTasks(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(2 * time.Hour)
	store := newMockStore()

	m, err := testService(store, 0).Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("meeting not persisted")
	}

	byKind := tasksByKind(store.scheduled)
	if len(byKind) != 3 {
		t.Fatalf("scheduled %d task kinds, want 3", len(byKind))
	}
	if got := byKind[db.TaskMeetingCreated].RunAt; !got.Equal(now) {
		t.Fatalf("created task at %v, want %v", got, now)
	}
	if got := byKind[db.TaskMeetingReminder].RunAt; !got.Equal(scheduled.Add(-5 * time.Minute)) {
		t.Fatalf("reminder task at %v", got)
	}
	if got := byKind[db.TaskMeetingComplete].RunAt; !got.Equal(scheduled) {
		t.Fatalf("complete task at %v, want %v", got, scheduled)
	}
}

func TestCreate_PastMeetingSkipsReminderAndCompletesNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(-time.Hour)
	store := newMockStore()

	if _, err := testService(store, 0).Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	byKind := tasksByKind(store.scheduled)
	if _, ok := byKind[db.TaskMeetingReminder]; ok {
		t.Fatal("no reminder for a meeting already in the past")
	}
	if got := byKind[db.TaskMeetingComplete].RunAt; !got.Equal(now) {
		t.Fatalf("complete task at %v, want now", got)
	}
}

func TestCreate_NoScheduledTimeOnlyAnnounces(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()

	if _, err := testService(store, 0).Create(context.Background(), CreateInput{
		MentorID:  10,
		StudentID: 20,
	}, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	if len(store.scheduled) != 1 || store.scheduled[0].Kind != db.TaskMeetingCreated {
		t.Fatalf("scheduled = %+v", store.scheduled)
	}
}

func TestCreate_GraceDelaysCompletion(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(time.Hour)
	grace := 30 * time.Minute
	store := newMockStore()

	if _, err := testService(store, grace).Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	byKind := tasksByKind(store.scheduled)
	if got := byKind[db.TaskMeetingComplete].RunAt; !got.Equal(scheduled.Add(grace)) {
		t.Fatalf("complete task at %v, want scheduled+grace", got)
	}
}

func TestRunDueTasks_CreatedTaskEnqueuesAssignedText(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := testService(store, 0)

	scheduled := now.Add(2 * time.Hour)
	link := "https://meet.example.com/abc"
	_, err := svc.Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
		MeetingLink: &link,
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created := tasksByKind(store.scheduled)[db.TaskMeetingCreated]
	store.dueTasks = []*db.ScheduledTask{created}

	if err := svc.RunDueTasks(context.Background(), now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(store.finished) != 1 {
		t.Fatalf("finished = %d", len(store.finished))
	}
	notifs := store.finished[0].notifs
	if len(notifs) != 1 || notifs[0].UserID != 20 {
		t.Fatalf("notifs = %+v", notifs)
	}
	text := notifs[0].Text
	if !strings.Contains(text, "Mentor") {
		t.Fatalf("missing mentor line: %q", text)
	}
	// 14:00 UTC is 17:00 in the configured UTC+3 zone.
	if !strings.Contains(text, "10.03.2026 17:00") {
		t.Fatalf("time not rendered in local zone: %q", text)
	}
	if !strings.Contains(text, link) {
		t.Fatalf("missing link: %q", text)
	}
}

func TestRunDueTasks_ReminderSkippedForCompletedMeeting(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := testService(store, 0)

	scheduled := now.Add(10 * time.Minute)
	_, err := svc.Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	completedAt := now
	store.meetings[1].CompletedAt = &completedAt

	reminder := tasksByKind(store.scheduled)[db.TaskMeetingReminder]
	store.dueTasks = []*db.ScheduledTask{reminder}

	if err := svc.RunDueTasks(context.Background(), now.Add(6*time.Minute)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(store.finished) != 1 {
		t.Fatalf("finished = %d", len(store.finished))
	}
	if store.finished[0].notifs != nil {
		t.Fatal("a completed meeting must not be reminded")
	}
}

func TestRunDueTasks_CompleteTaskTransitionsMeeting(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := testService(store, 0)

	scheduled := now.Add(-time.Hour)
	_, err := svc.Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	complete := tasksByKind(store.scheduled)[db.TaskMeetingComplete]
	store.dueTasks = []*db.ScheduledTask{complete}

	if err := svc.RunDueTasks(context.Background(), now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if store.meetings[1].CompletedAt == nil {
		t.Fatal("meeting not completed")
	}
	if len(store.finished) != 1 {
		t.Fatal("task not finished")
	}
}

func TestRunDueTasks_VanishedMeetingDropsTask(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := testService(store, 0)

	scheduled := now.Add(time.Hour)
	_, err := svc.Create(context.Background(), CreateInput{
		MentorID:    10,
		StudentID:   20,
		ScheduledAt: &scheduled,
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	delete(store.meetings, 1)

	created := tasksByKind(store.scheduled)[db.TaskMeetingCreated]
	store.dueTasks = []*db.ScheduledTask{created}

	if err := svc.RunDueTasks(context.Background(), now); err != nil {
		t.Fatalf("a vanished meeting is not an error: %v", err)
	}
	if len(store.finished) != 1 || store.finished[0].notifs != nil {
		t.Fatalf("task should be dropped without notifications: %+v", store.finished)
	}
}

func TestListForUser_HidePastAppliesGrace(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	grace := 30 * time.Minute

	recording := &cutoffRecordingStore{mockStore: newMockStore()}
	r := NewReconciler(recording, grace, zap.NewNop())
	svc := NewService(recording, r, Config{Grace: grace, LocalZone: time.UTC}, zap.NewNop())

	if _, err := svc.ListForUser(context.Background(), 20, true, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if recording.cutoff == nil || !recording.cutoff.Equal(now.Add(-grace)) {
		t.Fatalf("cutoff = %v, want now-grace", recording.cutoff)
	}

	recording.cutoff = nil
	if _, err := svc.ListForUser(context.Background(), 20, false, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if recording.cutoff != nil {
		t.Fatal("no cutoff when past meetings are shown")
	}
}

type cutoffRecordingStore struct {
	*mockStore
	cutoff *time.Time
}

func (s *cutoffRecordingStore) ListMeetingsForUser(ctx context.Context, userID int64, pastCutoff *time.Time) ([]*db.Meeting, error) {
	s.cutoff = pastCutoff
	return nil, nil
}
