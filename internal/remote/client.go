package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrMissingBaseURL indicates the client was constructed without a
	// remote API base URL.
	ErrMissingBaseURL = errors.New("remote: base url is required")
)

const defaultTimeout = 15 * time.Second

// CallResult carries the uniform response envelope metadata returned by every
// remote API call. Callers only rely on the truthiness of Success.
type CallResult struct {
	Success bool
	Status  int
	Error   string
}

// Failed reports whether the remote call did not succeed.
func (r CallResult) Failed() bool {
	return !r.Success
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  int             `json:"status"`
}

// EnrollmentData mirrors the remote representation of an enrollment.
type EnrollmentData struct {
	CourseID   int64  `json:"course_id"`
	UserID     int64  `json:"user_id"`
	Method     string `json:"method"`
	EnrolledAt int64  `json:"enrolled_at_s"`
}

// CourseProgressData mirrors the remote representation of course progress.
// Pointer fields distinguish omitted values from explicit zeroes.
type CourseProgressData struct {
	CourseID             int64   `json:"course_id"`
	UserID               int64   `json:"user_id"`
	CompletedLessons     []int64 `json:"completed_lessons"`
	CompletedQuizzes     []int64 `json:"completed_quizzes"`
	CompletedAssignments []int64 `json:"completed_assignments"`
	OverallProgress      *int    `json:"overall_progress,omitempty"`
	StartedAt            *int64  `json:"started_at_s,omitempty"`
	LastAccessedAt       *int64  `json:"last_accessed_at_s,omitempty"`
	CompletedAt          *int64  `json:"completed_at_s,omitempty"`
}

// ClientConfig describes how to reach the remote learning-management API.
type ClientConfig struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client is a thin REST client for the remote enrollment/progress API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a remote API client with credential headers applied.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Credentials.Token != "" {
		httpClient.SetAuthToken(cfg.Credentials.Token)
	}
	if cfg.Credentials.Nonce != "" {
		httpClient.SetHeader("X-Api-Nonce", cfg.Credentials.Nonce)
	}
	if cfg.Credentials.Username != "" {
		httpClient.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password)
	}

	return &Client{http: httpClient, logger: logger}, nil
}

// IsUserEnrolled asks the remote authority whether the user is enrolled.
func (c *Client) IsUserEnrolled(ctx context.Context, courseID, userID int64) (bool, CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("course_id", strconv.FormatInt(courseID, 10)).
		SetQueryParam("user_id", strconv.FormatInt(userID, 10)).
		SetResult(&env).
		SetError(&env).
		Get("/enrollments/check")
	if err != nil {
		return false, CallResult{}, err
	}
	result := callResult(&env, resp)
	if !result.Success {
		return false, result, nil
	}
	var enrolled bool
	if err := decodeData(env.Data, &enrolled); err != nil {
		return false, result, fmt.Errorf("remote: decode enrollment check: %w", err)
	}
	return enrolled, result, nil
}

// EnrollInCourse registers the user in the course on the remote authority.
func (c *Client) EnrollInCourse(ctx context.Context, courseID, userID int64) (CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]int64{"course_id": courseID, "user_id": userID}).
		SetResult(&env).
		SetError(&env).
		Post("/enrollments")
	if err != nil {
		return CallResult{}, err
	}
	return callResult(&env, resp), nil
}

// MarkLessonCompleted records a lesson completion on the remote authority.
func (c *Client) MarkLessonCompleted(ctx context.Context, lessonID, courseID, userID int64) (CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]int64{"lesson_id": lessonID, "course_id": courseID, "user_id": userID}).
		SetResult(&env).
		SetError(&env).
		Post("/lessons/complete")
	if err != nil {
		return CallResult{}, err
	}
	return callResult(&env, resp), nil
}

// GetCourseProgress fetches the authoritative course progress for the user.
// A successful call with no stored progress returns a nil record.
func (c *Client) GetCourseProgress(ctx context.Context, courseID, userID int64) (*CourseProgressData, CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("course_id", strconv.FormatInt(courseID, 10)).
		SetQueryParam("user_id", strconv.FormatInt(userID, 10)).
		SetResult(&env).
		SetError(&env).
		Get("/progress/course")
	if err != nil {
		return nil, CallResult{}, err
	}
	result := callResult(&env, resp)
	if !result.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, result, nil
	}
	var data CourseProgressData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, result, fmt.Errorf("remote: decode course progress: %w", err)
	}
	return &data, result, nil
}

// GetUserEnrollments fetches the user's full remote enrollment list.
func (c *Client) GetUserEnrollments(ctx context.Context, userID int64) ([]EnrollmentData, CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", strconv.FormatInt(userID, 10)).
		SetResult(&env).
		SetError(&env).
		Get("/enrollments")
	if err != nil {
		return nil, CallResult{}, err
	}
	result := callResult(&env, resp)
	if !result.Success {
		return nil, result, nil
	}
	var data []EnrollmentData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, result, fmt.Errorf("remote: decode enrollments: %w", err)
	}
	return data, result, nil
}

// GetUserProgress fetches the user's full remote course progress list.
func (c *Client) GetUserProgress(ctx context.Context, userID int64) ([]CourseProgressData, CallResult, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", strconv.FormatInt(userID, 10)).
		SetResult(&env).
		SetError(&env).
		Get("/progress")
	if err != nil {
		return nil, CallResult{}, err
	}
	result := callResult(&env, resp)
	if !result.Success {
		return nil, result, nil
	}
	var data []CourseProgressData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, result, fmt.Errorf("remote: decode progress list: %w", err)
	}
	return data, result, nil
}

func callResult(env *envelope, resp *resty.Response) CallResult {
	result := CallResult{
		Success: env.Success,
		Status:  resp.StatusCode(),
		Error:   env.Error,
	}
	if env.Status != 0 {
		result.Status = env.Status
	}
	if !resp.IsSuccess() {
		result.Success = false
		if result.Error == "" {
			result.Error = resp.Status()
		}
	}
	return result
}

func decodeData(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}
