// Package rules turns due recurring broadcast rules into queued
// notifications, at most once per cadence window per rule.
package rules

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mentorhub/internal/db"
	"mentorhub/internal/metrics"
)

// Store is the persistence the materializer works against.
type Store interface {
	ListUserRules(ctx context.Context) ([]*db.UserRule, error)
	ListStateRules(ctx context.Context) ([]*db.StateRule, error)
	ListCohortRules(ctx context.Context) ([]*db.CohortRule, error)
	ListUsersByState(ctx context.Context, state db.UserState) ([]*db.User, error)
	ListUsersByCohort(ctx context.Context, cohortID int64) ([]*db.User, error)
	AdvanceAndEnqueue(ctx context.Context, kind db.RuleKind, ruleID int64, observed *time.Time, now time.Time, notifs []*db.Notification) (bool, error)
}

// Materializer converts due rules of all three kinds into concrete
// notifications. Each rule commits in its own transaction, so one broken rule
// never blocks the rest of the pass.
type Materializer struct {
	store  Store
	logger *zap.Logger
}

// New creates a materializer.
func New(store Store, logger *zap.Logger) *Materializer {
	return &Materializer{
		store:  store,
		logger: logger,
	}
}

// Run materializes all three rule kinds in sequence. Per-kind failures are
// logged and do not abort the remaining kinds; the first error is returned so
// the tick is reported failed and retried by the next trigger.
func (m *Materializer) Run(ctx context.Context, now time.Time) error {
	var firstErr error
	if _, err := m.RunUserRules(ctx, now); err != nil {
		firstErr = err
	}
	if _, err := m.RunStateRules(ctx, now); err != nil && firstErr == nil {
		firstErr = err
	}
	if _, err := m.RunCohortRules(ctx, now); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// due applies the cadence throttle shared by all rule kinds: a rule fires
// only when a full cadence interval has passed since last_sent_at.
func due(cadence db.Cadence, lastSentAt *time.Time, now time.Time) bool {
	interval, ok := cadence.Interval()
	if !ok {
		return false
	}
	return lastSentAt == nil || !lastSentAt.Add(interval).After(now)
}

func withinBounds(now time.Time, startAt, endAt *time.Time) bool {
	if startAt != nil && now.Before(*startAt) {
		return false
	}
	if endAt != nil && now.After(*endAt) {
		return false
	}
	return true
}

// RunUserRules materializes rules targeted at a single user.
func (m *Materializer) RunUserRules(ctx context.Context, now time.Time) (int, error) {
	ruleList, err := m.store.ListUserRules(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	var firstErr error
	for _, rule := range ruleList {
		if !withinBounds(now, rule.StartAt, rule.EndAt) {
			continue
		}
		if !due(rule.Cadence, rule.LastSentAt, now) {
			continue
		}

		scheduledAt := now
		notif := &db.Notification{
			UserID:      rule.UserID,
			Text:        rule.Text,
			ScheduledAt: &scheduledAt,
		}

		fired, err := m.store.AdvanceAndEnqueue(ctx, db.RuleKindUser, rule.ID, rule.LastSentAt, now, []*db.Notification{notif})
		if err != nil {
			m.logger.Error("failed to materialize user rule",
				zap.Error(err),
				zap.Int64("rule_id", rule.ID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if fired {
			created++
			metrics.RecordRuleMaterialized("user")
			metrics.RecordNotificationsEnqueued("user_rule", 1)
		}
	}

	if created > 0 {
		m.logger.Info("created notifications from user rules", zap.Int("count", created))
	}
	return created, firstErr
}

// RunStateRules materializes rules targeted at all users of a lifecycle
// state. A user qualifies only after offset_days have passed since their
// state change; users with no recorded state change can never qualify and
// are skipped. last_sent_at advances only when at least one recipient
// actually got a notification.
func (m *Materializer) RunStateRules(ctx context.Context, now time.Time) (int, error) {
	ruleList, err := m.store.ListStateRules(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	var firstErr error
	for _, rule := range ruleList {
		if !due(rule.Cadence, rule.LastSentAt, now) {
			continue
		}

		// Recipient sets are resolved fresh each pass, never cached.
		users, err := m.store.ListUsersByState(ctx, rule.State)
		if err != nil {
			m.logger.Error("failed to resolve state rule recipients",
				zap.Error(err),
				zap.Int64("rule_id", rule.ID),
				zap.String("state", string(rule.State)),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		offset := time.Duration(rule.OffsetDays) * 24 * time.Hour
		var notifs []*db.Notification
		for _, user := range users {
			if user.StateChangedAt == nil {
				m.logger.Warn("user has no state change timestamp, skipping",
					zap.Int64("telegram_id", user.TelegramID),
					zap.Int64("rule_id", rule.ID),
				)
				continue
			}
			if now.Before(user.StateChangedAt.Add(offset)) {
				continue
			}
			scheduledAt := now
			notifs = append(notifs, &db.Notification{
				UserID:      user.TelegramID,
				Text:        rule.Text,
				ScheduledAt: &scheduledAt,
			})
		}

		if len(notifs) == 0 {
			// Nobody qualified; keep last_sent_at so the rule retries next tick.
			continue
		}

		fired, err := m.store.AdvanceAndEnqueue(ctx, db.RuleKindState, rule.ID, rule.LastSentAt, now, notifs)
		if err != nil {
			m.logger.Error("failed to materialize state rule",
				zap.Error(err),
				zap.Int64("rule_id", rule.ID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if fired {
			created += len(notifs)
			metrics.RecordRuleMaterialized("state")
			metrics.RecordNotificationsEnqueued("state_rule", len(notifs))
		}
	}

	if created > 0 {
		m.logger.Info("created notifications from state rules", zap.Int("count", created))
	}
	return created, firstErr
}

// RunCohortRules materializes rules targeted at all members of a cohort. An
// empty cohort leaves the rule untouched so it fires for the first members
// to arrive.
func (m *Materializer) RunCohortRules(ctx context.Context, now time.Time) (int, error) {
	ruleList, err := m.store.ListCohortRules(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	var firstErr error
	for _, rule := range ruleList {
		if !due(rule.Cadence, rule.LastSentAt, now) {
			continue
		}

		users, err := m.store.ListUsersByCohort(ctx, rule.CohortID)
		if err != nil {
			m.logger.Error("failed to resolve cohort rule recipients",
				zap.Error(err),
				zap.Int64("rule_id", rule.ID),
				zap.Int64("cohort_id", rule.CohortID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(users) == 0 {
			continue
		}

		notifs := make([]*db.Notification, 0, len(users))
		for _, user := range users {
			scheduledAt := now
			notifs = append(notifs, &db.Notification{
				UserID:      user.TelegramID,
				Text:        rule.Text,
				ScheduledAt: &scheduledAt,
			})
		}

		fired, err := m.store.AdvanceAndEnqueue(ctx, db.RuleKindCohort, rule.ID, rule.LastSentAt, now, notifs)
		if err != nil {
			m.logger.Error("failed to materialize cohort rule",
				zap.Error(err),
				zap.Int64("rule_id", rule.ID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if fired {
			created += len(notifs)
			metrics.RecordRuleMaterialized("cohort")
			metrics.RecordNotificationsEnqueued("cohort_rule", len(notifs))
		}
	}

	if created > 0 {
		m.logger.Info("created notifications from cohort rules", zap.Int("count", created))
	}
	return created, firstErr
}
