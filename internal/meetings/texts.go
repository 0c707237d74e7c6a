package meetings

import (
	"fmt"
	"strings"
	"time"

	"mentorhub/internal/db"
)

const displayTimeLayout = "02.01.2006 15:04"

func formatWhen(t *time.Time, zone *time.Location) string {
	if t == nil {
		return "time to be agreed"
	}
	return t.In(zone).Format(displayTimeLayout)
}

// assignedText is the message a student receives when a call is booked.
func assignedText(m *db.Meeting, zone *time.Location) string {
	mentor, _ := m.SplitParticipants()

	var b strings.Builder
	b.WriteString("You have a new mentor call.\n")
	if mentor != nil {
		name := mentor.Name
		if name == "" {
			name = "@" + mentor.Username
		}
		fmt.Fprintf(&b, "Mentor: %s\n", name)
	}
	fmt.Fprintf(&b, "When: %s\n", formatWhen(m.ScheduledAt, zone))
	if m.Description != nil && *m.Description != "" {
		fmt.Fprintf(&b, "Topic: %s\n", *m.Description)
	}
	if m.MeetingLink != nil && *m.MeetingLink != "" {
		fmt.Fprintf(&b, "Link: %s", *m.MeetingLink)
	}
	return strings.TrimRight(b.String(), "\n")
}

// reminderText is the message sent shortly before a call starts.
func reminderText(m *db.Meeting, zone *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your mentor call starts soon: %s.\n", formatWhen(m.ScheduledAt, zone))
	if m.MeetingLink != nil && *m.MeetingLink != "" {
		fmt.Fprintf(&b, "Link: %s", *m.MeetingLink)
	}
	return strings.TrimRight(b.String(), "\n")
}

// surveyPromptText is the message inviting the student to rate a finished call.
func surveyPromptText(m *db.Meeting) string {
	return fmt.Sprintf(
		"Your mentor call is over. Please take a minute to rate it: /survey_%d",
		m.ID,
	)
}
