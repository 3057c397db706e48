package app

import (
	"learnhub_backend/internal/config"
	"learnhub_backend/internal/middleware"
	"learnhub_backend/internal/model"
	"learnhub_backend/pkg/monitoring"
	"learnhub_backend/pkg/security"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerAdminRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/courses/:courseId/syllabus", c.syllabus.GetSyllabus)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	courses := group.Group("/courses/:courseId")
	{
		courses.POST("/enroll", c.progress.Enroll)
		courses.GET("/progress", c.progress.GetProgress)

		// 进度变更接口按用户限流
		mutations := courses.Group("/modules/:moduleId")
		mutations.Use(security.RateLimiter(a.rateStore, security.KeyByUser))
		{
			mutations.POST("/lessons/:lessonId/complete", c.progress.CompleteLesson)
			mutations.POST("/quiz", c.progress.SubmitQuiz)
		}
	}
}

func (a *App) registerAdminRoutes(group *gin.RouterGroup, c *controllers) {
	admin := group.Group("/admin")
	admin.Use(middleware.RoleMiddleware(model.Teacher, model.Admin))
	{
		admin.POST("/courses/:courseId/syllabus/rebuild", c.syllabus.RebuildCourse)
		admin.POST("/syllabus/rebuild", c.syllabus.RebuildAll)
	}
}
