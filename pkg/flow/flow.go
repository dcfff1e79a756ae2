package flow

import (
	"time"

	"nutriflow/pkg/domain"
)

// Stage identifies which onboarding screen a profile should see.
type Stage string

const (
	StageWelcome      Stage = "welcome"
	StageScheduling   Stage = "scheduling"
	StageAnamnesis    Stage = "anamnesis"
	StageApprovalWait Stage = "approval_wait"
	StageNewsGate     Stage = "news_gate"
	StageDashboard    Stage = "dashboard"
	StageAdminConsole Stage = "admin_console"
)

// StageFor derives the onboarding stage from a profile snapshot. It is a pure
// function of the profile flags and the newest news timestamp: re-evaluating
// with the same inputs always yields the same stage. Admin profiles bypass the
// patient machine entirely.
//
// latestNews is the creation time of the newest published news post, or the
// zero time when none exists.
func StageFor(p domain.Profile, latestNews time.Time) Stage {
	if p.Role == domain.RoleAdmin {
		return StageAdminConsole
	}
	switch {
	case !p.HasSeenWelcome:
		return StageWelcome
	case !p.HasScheduledInitialChat:
		return StageScheduling
	case !p.HasCompletedAnamnesis:
		return StageAnamnesis
	case !p.IsApproved:
		return StageApprovalWait
	}
	if !latestNews.IsZero() && latestNews.After(p.LastNewsSeenAt) {
		return StageNewsGate
	}
	return StageDashboard
}

// Advance reports whether a patient-initiated transition out of the given
// stage exists. ApprovalWait has none: only an admin approval moves the
// profile forward.
func Advance(s Stage) (Stage, bool) {
	switch s {
	case StageWelcome:
		return StageScheduling, true
	case StageScheduling:
		return StageAnamnesis, true
	case StageAnamnesis:
		return StageApprovalWait, true
	case StageNewsGate:
		return StageDashboard, true
	default:
		return s, false
	}
}
