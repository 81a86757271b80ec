package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam          *handler.ExamHandler
	Grading       *handler.GradingHandler
	Monitor       *handler.MonitorHandler
	StudentPortal *handler.StudentPortalHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// studentLimiter may be nil to disable rate limiting of student actions.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	studentLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "X-Request-ID",
		"X-Browser-Fingerprint", "X-Browser-Instance-Id",
	}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	if studentLimiter != nil {
		studentAPI.Use(studentLimiter.Middleware())
	}
	{
		studentAPI.GET("/student-exams/:student_exam_id", handlers.StudentPortal.GetStudentExam)
		studentAPI.POST("/student-exams/:student_exam_id/start", handlers.StudentPortal.StartStudentExam)
		studentAPI.POST("/student-exams/:student_exam_id/submit", handlers.StudentPortal.SubmitStudentExam)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/student-exams/:student_exam_id/stream", handlers.WS.StudentExamStream)
	}

	// ─── 3. Staff Group (JWT + RBAC) ───────────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(middleware.RequireStaffJWT(authService))
	{
		// Exam management
		staffAPI.GET("/exams/:exam_id",
			middleware.RequireAnyPermission(model.PermissionExamsRead, model.PermissionExamsManage),
			handlers.Exam.GetExam,
		)
		staffAPI.PUT("/exams/:exam_id",
			middleware.RequirePermission(model.PermissionExamsManage),
			handlers.Exam.UpdateExam,
		)
		staffAPI.PUT("/student-exams/:student_exam_id/working-time",
			middleware.RequirePermission(model.PermissionExamsManage),
			handlers.Exam.UpdateWorkingTime,
		)

		// Student exam generation
		staffAPI.POST("/exams/:exam_id/student-exams/generate-missing",
			middleware.RequirePermission(model.PermissionExamsManage),
			handlers.Exam.GenerateMissingStudentExams,
		)
		staffAPI.POST("/exams/:exam_id/student-exams/generate",
			middleware.RequirePermission(model.PermissionExamsManage),
			handlers.Exam.GenerateStudentExams,
		)
		staffAPI.POST("/exams/:exam_id/test-runs",
			middleware.RequirePermission(model.PermissionExamsManage),
			handlers.Exam.CreateTestRun,
		)

		// Grading
		staffAPI.GET("/exams/:exam_id/scores",
			middleware.RequirePermission(model.PermissionExamsGrade),
			handlers.Grading.GetExamScores,
		)
		staffAPI.GET("/student-exams/:student_exam_id/result",
			middleware.RequirePermission(model.PermissionExamsGrade),
			handlers.Grading.GetStudentResult,
		)
		staffAPI.POST("/grading-scales",
			middleware.RequirePermission(model.PermissionGradingScalesWrite),
			handlers.Grading.ImportGradingScale,
		)

		// Proctoring
		staffAPI.GET("/exams/:exam_id/suspicious-sessions",
			middleware.RequirePermission(model.PermissionExamsProctor),
			handlers.Monitor.GetSuspiciousSessions,
		)
		staffAPI.GET("/exams/:exam_id/sessions/stream",
			middleware.RequirePermission(model.PermissionExamsProctor),
			handlers.Monitor.MonitorSessionsSSE,
		)
	}

	return router
}
