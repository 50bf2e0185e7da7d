// Package handlers exposes the attendance use cases over HTTP.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/usecase"
)

// MaxUploadSize is the default request body limit.
const MaxUploadSize = 10 << 20

// EnrollmentUseCase is the enrollment surface used by the handlers.
type EnrollmentUseCase interface {
	GroupForRegistration(ctx context.Context, link string) (*repository.Group, error)
	Register(ctx context.Context, req usecase.RegisterRequest) (*repository.Student, error)
	Status(ctx context.Context, studentID string, groupID uint) (*usecase.RegistrationStatus, error)
}

// VerificationUseCase is the verification surface used by the handlers.
type VerificationUseCase interface {
	GroupForAttendance(ctx context.Context, link string) (*repository.Group, error)
	Verify(ctx context.Context, studentID string, groupID uint, image []byte) (*usecase.VerifyResult, error)
	Identify(ctx context.Context, caller usecase.Caller, image []byte) (*usecase.Identification, error)
	Confirm(ctx context.Context, caller usecase.Caller, req usecase.ConfirmRequest) (*usecase.VerifyResult, error)
}

// GroupUseCase is the instructor surface used by the handlers.
type GroupUseCase interface {
	CreateGroup(ctx context.Context, caller usecase.Caller, in usecase.NewGroup) (*repository.Group, error)
	ListGroups(ctx context.Context, caller usecase.Caller) ([]usecase.GroupSummary, error)
	DailyReport(ctx context.Context, caller usecase.Caller) ([]usecase.GroupReport, error)
	DashboardStats(ctx context.Context, caller usecase.Caller) (*usecase.DashboardStats, error)
}

// Dependencies bundles the use cases behind the routes.
type Dependencies struct {
	Enrollment   EnrollmentUseCase
	Verification VerificationUseCase
	Groups       GroupUseCase
}

type registerFaceRequest struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	StudentID  string   `json:"student_id"`
	Department string   `json:"department"`
	Phone      string   `json:"phone"`
	Images     []string `json:"images"`
}

type markAttendanceRequest struct {
	StudentID string `json:"student_id"`
	Image     string `json:"image"`
}

type identifyRequest struct {
	Image string `json:"image"`
}

type confirmRequest struct {
	StudentID        string `json:"student_id"`
	GroupID          uint   `json:"group_id"`
	IdentificationID string `json:"identification_id"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Routes that
// require an instructor go through authMiddleware first.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc, maxBodyBytes int64) {
	if maxBodyBytes <= 0 {
		maxBodyBytes = MaxUploadSize
	}
	h := &handler{deps: deps}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := router.Group("/attendance", BodyLimit(maxBodyBytes))
	public.POST("/register-face/:registration_link", h.registerFace)
	public.GET("/status/:registration_link/:student_id", h.registrationStatus)
	public.POST("/mark-attendance/:attendance_link", h.markAttendance)

	instructor := router.Group("/", authMiddleware, auth.RequireRole(usecase.RoleInstructor), BodyLimit(maxBodyBytes))
	instructor.POST("/identify-student", h.identifyStudent)
	instructor.POST("/mark-attendance-confirm", h.confirmAttendance)
	instructor.POST("/groups", h.createGroup)
	instructor.GET("/groups", h.listGroups)
	instructor.GET("/daily-attendance-report", h.dailyReport)
	instructor.GET("/dashboard-stats", h.dashboardStats)
}

type handler struct {
	deps Dependencies
}

func (h *handler) registerFace(c *gin.Context) {
	ctx := c.Request.Context()
	group, err := h.deps.Enrollment.GroupForRegistration(ctx, c.Param("registration_link"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req registerFaceRequest
	if !bindJSON(c, &req) {
		return
	}
	images, err := decodeImages(req.Images)
	if err != nil {
		respondError(c, err)
		return
	}

	student, err := h.deps.Enrollment.Register(ctx, usecase.RegisterRequest{
		StudentID: req.StudentID,
		GroupID:   group.ID,
		Profile: usecase.Profile{
			Name:       req.Name,
			Email:      req.Email,
			Department: req.Department,
			Phone:      req.Phone,
		},
		Images: images,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Successfully registered.",
		"student": student,
		"group":   group.Name,
	})
}

func (h *handler) registrationStatus(c *gin.Context) {
	ctx := c.Request.Context()
	group, err := h.deps.Enrollment.GroupForRegistration(ctx, c.Param("registration_link"))
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := h.deps.Enrollment.Status(ctx, c.Param("student_id"), group.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) markAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	group, err := h.deps.Verification.GroupForAttendance(ctx, c.Param("attendance_link"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req markAttendanceRequest
	if !bindJSON(c, &req) {
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.deps.Verification.Verify(ctx, req.StudentID, group.ID, image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Attendance marked successfully",
		"student_id": result.Student.StudentID,
		"name":       result.Student.Name,
		"timestamp":  result.Attendance.Timestamp,
		"distance":   result.Distance,
	})
}

func (h *handler) identifyStudent(c *gin.Context) {
	var req identifyRequest
	if !bindJSON(c, &req) {
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.deps.Verification.Identify(c.Request.Context(), callerFrom(c), image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) confirmAttendance(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.deps.Verification.Confirm(c.Request.Context(), callerFrom(c), usecase.ConfirmRequest{
		StudentID:        req.StudentID,
		GroupID:          req.GroupID,
		IdentificationID: req.IdentificationID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Attendance marked successfully for " + result.Student.Name,
		"timestamp": result.Attendance.Timestamp,
	})
}

func (h *handler) createGroup(c *gin.Context) {
	var req usecase.NewGroup
	if !bindJSON(c, &req) {
		return
	}
	group, err := h.deps.Groups.CreateGroup(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *handler) listGroups(c *gin.Context) {
	groups, err := h.deps.Groups.ListGroups(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *handler) dailyReport(c *gin.Context) {
	report, err := h.deps.Groups.DailyReport(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) dashboardStats(c *gin.Context) {
	stats, err := h.deps.Groups.DashboardStats(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func callerFrom(c *gin.Context) usecase.Caller {
	identity, ok := auth.GetIdentity(c.Request.Context())
	if !ok {
		return usecase.Caller{}
	}
	return usecase.Caller{ID: identity.Subject, Role: identity.Role}
}

// bindJSON decodes the body into dst and writes the error response on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		status, reason := classify(err)
		if status == http.StatusInternalServerError {
			status, reason = http.StatusBadRequest, reasonValidation
		}
		abortWithError(c, status, reason, "invalid request body")
		return false
	}
	return true
}

// decodeImage turns a base64 payload or data URL into image bytes. An empty
// payload yields nil so the use case reports the missing field.
func decodeImage(payload string) ([]byte, error) {
	if payload == "" {
		return nil, nil
	}
	data, err := imageprocessor.DecodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", usecase.ErrValidation, err)
	}
	if _, err := imageprocessor.DetectType(data); err != nil {
		return nil, fmt.Errorf("%w: %w", usecase.ErrValidation, err)
	}
	return data, nil
}

func decodeImages(payloads []string) ([][]byte, error) {
	images := make([][]byte, 0, len(payloads))
	for i, p := range payloads {
		data, err := decodeImage(p)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if data != nil {
			images = append(images, data)
		}
	}
	return images, nil
}
