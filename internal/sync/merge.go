package sync

import (
	"time"

	"github.com/lumenlearn/coursesync/internal/progress"
	"github.com/lumenlearn/coursesync/internal/remote"
)

// mergeCourseProgress reconciles a local course progress record with the
// remote authority's view. Remote values win field-by-field when provided;
// local values fill the gaps, and "now" is the last-resort timestamp.
func mergeCourseProgress(local progress.CourseProgress, remoteData remote.CourseProgressData, now time.Time) progress.CourseProgress {
	merged := local
	merged.CourseID = remoteData.CourseID
	if merged.CourseID == 0 {
		merged.CourseID = local.CourseID
	}

	if len(remoteData.CompletedLessons) > 0 {
		merged.CompletedLessons = progress.IDSet(remoteData.CompletedLessons)
	}
	if len(remoteData.CompletedQuizzes) > 0 {
		merged.CompletedQuizzes = progress.IDSet(remoteData.CompletedQuizzes)
	}
	if len(remoteData.CompletedAssignments) > 0 {
		merged.CompletedAssignments = progress.IDSet(remoteData.CompletedAssignments)
	}
	if remoteData.OverallProgress != nil {
		merged.OverallProgress = progress.ClampPercent(*remoteData.OverallProgress)
	}

	merged.StartedAtSeconds = pickTimestamp(remoteData.StartedAt, local.StartedAtSeconds, now)
	merged.LastAccessedAtSeconds = pickTimestamp(remoteData.LastAccessedAt, local.LastAccessedAtSeconds, now)
	if remoteData.CompletedAt != nil {
		merged.CompletedAtSeconds = remoteData.CompletedAt
	}

	return merged
}

func pickTimestamp(remoteValue *int64, localValue int64, now time.Time) int64 {
	if remoteValue != nil && *remoteValue > 0 {
		return *remoteValue
	}
	if localValue > 0 {
		return localValue
	}
	return now.Unix()
}
