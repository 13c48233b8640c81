package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lumenlearn/coursesync/internal/progress"
	coursesync "github.com/lumenlearn/coursesync/internal/sync"
	"go.uber.org/zap"
)

var (
	errMissingCoordinator = errors.New("sync coordinator dependency required")
	errMissingStore       = errors.New("progress store dependency required")
)

// Dependencies lists the collaborators the HTTP surface exposes.
type Dependencies struct {
	Coordinator *coursesync.Coordinator
	Store       *progress.Store
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router serving the storefront-facing API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		coordinator: deps.Coordinator,
		store:       deps.Store,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/courses/:courseID/enrollment", handler.handleEnrollmentCheck)
	router.POST("/courses/:courseID/enrollment", handler.handleEnroll)
	router.DELETE("/courses/:courseID/enrollment", handler.handleUnenroll)
	router.GET("/courses/:courseID/progress", handler.handleCourseProgress)
	router.GET("/courses/:courseID/lessons/:lessonID", handler.handleLessonProgress)
	router.PATCH("/courses/:courseID/lessons/:lessonID", handler.handleLessonUpdate)
	router.POST("/courses/:courseID/lessons/:lessonID/complete", handler.handleLessonComplete)
	router.POST("/sync/push", handler.handleSyncPush)
	router.POST("/sync/pull", handler.handleSyncPull)
	router.GET("/sync/queue", handler.handleQueueInspect)
	router.PUT("/sync/connectivity", handler.handleConnectivity)
	router.GET("/export", handler.handleExport)

	return router, nil
}

type httpHandler struct {
	coordinator *coursesync.Coordinator
	store       *progress.Store
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online": h.coordinator.Online()})
}

type enrollmentResponsePayload struct {
	CourseID int64 `json:"course_id"`
	Enrolled bool  `json:"enrolled"`
}

func (h *httpHandler) handleEnrollmentCheck(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	enrolled := h.coordinator.IsEnrolledInCourse(c.Request.Context(), courseID)
	c.JSON(http.StatusOK, enrollmentResponsePayload{CourseID: courseID.Int64(), Enrolled: enrolled})
}

func (h *httpHandler) handleEnroll(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	if !h.coordinator.EnrollInFreeCourse(c.Request.Context(), courseID) {
		h.logger.Error("local enrollment failed", zap.Int64("course_id", courseID.Int64()))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "enrollment_failed"})
		return
	}
	c.JSON(http.StatusOK, enrollmentResponsePayload{CourseID: courseID.Int64(), Enrolled: true})
}

func (h *httpHandler) handleUnenroll(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	// Local-only fast path: no remote unenroll exists in the API contract.
	h.store.Unenroll(courseID, h.userID())
	c.Status(http.StatusNoContent)
}

type courseProgressPayload struct {
	CourseID              int64   `json:"course_id"`
	UserID                int64   `json:"user_id"`
	CompletedLessons      []int64 `json:"completed_lessons"`
	CompletedQuizzes      []int64 `json:"completed_quizzes"`
	CompletedAssignments  []int64 `json:"completed_assignments"`
	OverallProgress       int     `json:"overall_progress"`
	StartedAtSeconds      int64   `json:"started_at_s"`
	LastAccessedAtSeconds int64   `json:"last_accessed_at_s"`
	CompletedAtSeconds    *int64  `json:"completed_at_s,omitempty"`
}

func (h *httpHandler) handleCourseProgress(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	record, found := h.coordinator.CourseProgress(c.Request.Context(), courseID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "progress_not_found"})
		return
	}
	c.JSON(http.StatusOK, courseProgressPayload{
		CourseID:              record.CourseID,
		UserID:                record.UserID,
		CompletedLessons:      []int64(record.CompletedLessons),
		CompletedQuizzes:      []int64(record.CompletedQuizzes),
		CompletedAssignments:  []int64(record.CompletedAssignments),
		OverallProgress:       record.OverallProgress,
		StartedAtSeconds:      record.StartedAtSeconds,
		LastAccessedAtSeconds: record.LastAccessedAtSeconds,
		CompletedAtSeconds:    record.CompletedAtSeconds,
	})
}

func (h *httpHandler) handleLessonComplete(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	lessonID, ok := lessonParam(c)
	if !ok {
		return
	}
	h.coordinator.MarkLessonCompleted(c.Request.Context(), lessonID, courseID)
	c.Status(http.StatusNoContent)
}

type lessonUpdatePayload struct {
	Completed           *bool  `json:"completed"`
	Progress            *int   `json:"progress"`
	TimeSpentSeconds    *int64 `json:"time_spent_s"`
	LastPositionSeconds *int64 `json:"last_position_s"`
}

func (h *httpHandler) handleLessonUpdate(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	lessonID, ok := lessonParam(c)
	if !ok {
		return
	}
	var request lessonUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.store.UpdateLessonProgress(lessonID, courseID, progress.LessonProgressPatch{
		Completed:           request.Completed,
		Progress:            request.Progress,
		TimeSpentSeconds:    request.TimeSpentSeconds,
		LastPositionSeconds: request.LastPositionSeconds,
	}, h.userID())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLessonProgress(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	lessonID, ok := lessonParam(c)
	if !ok {
		return
	}
	record, found := h.store.LessonProgress(lessonID, courseID, h.userID())
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "lesson_progress_not_found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleSyncPush(c *gin.Context) {
	result := h.coordinator.SyncToServer(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSyncPull(c *gin.Context) {
	result := h.coordinator.SyncFromServer(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

type queueInspectPayload struct {
	Length  int                     `json:"length"`
	Entries []coursesync.QueueEntry `json:"entries"`
}

func (h *httpHandler) handleQueueInspect(c *gin.Context) {
	c.JSON(http.StatusOK, queueInspectPayload{
		Length:  h.coordinator.QueueLength(),
		Entries: h.coordinator.PendingOperations(),
	})
}

type connectivityPayload struct {
	Online *bool `json:"online"`
}

func (h *httpHandler) handleConnectivity(c *gin.Context) {
	var request connectivityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.coordinator.SetOnline(c.Request.Context(), *request.Online)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Export(h.userID()))
}

// userID mirrors the identity the coordinator writes under, so the local-only
// handlers stay scoped to the same records.
func (h *httpHandler) userID() progress.UserID {
	return progress.UserID(h.coordinator.UserID())
}

func courseParam(c *gin.Context) (progress.CourseID, bool) {
	raw, err := strconv.ParseInt(c.Param("courseID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return 0, false
	}
	courseID, err := progress.NewCourseID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return 0, false
	}
	return courseID, true
}

func lessonParam(c *gin.Context) (progress.LessonID, bool) {
	raw, err := strconv.ParseInt(c.Param("lessonID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_lesson_id"})
		return 0, false
	}
	lessonID, err := progress.NewLessonID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_lesson_id"})
		return 0, false
	}
	return lessonID, true
}
