package progress

// TotalsProvider reports the total number of completable items in a course.
// A non-positive return value means the total is unknown and the store falls
// back to its estimation floor.
type TotalsProvider interface {
	TotalItems(courseID CourseID) int
}

// StaticTotals serves course item totals from a fixed map, keyed by course id.
// Courses absent from the map report an unknown total.
type StaticTotals map[int64]int

// TotalItems returns the configured total for the course, or zero when unknown.
func (t StaticTotals) TotalItems(courseID CourseID) int {
	return t[courseID.Int64()]
}

const defaultItemFloor = 10

// ClampPercent bounds a progress percentage to [0, 100].
func ClampPercent(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// overallPercent derives the overall progress percentage from the completed
// item count and the course total, clamped to [0, 100]. When the total is
// unknown the denominator is estimated as max(completed, floor).
func overallPercent(completed, total, floor int) int {
	if completed <= 0 {
		return 0
	}
	if total <= 0 {
		total = completed
		if total < floor {
			total = floor
		}
	}
	if total < completed {
		total = completed
	}
	return ClampPercent(completed * 100 / total)
}
