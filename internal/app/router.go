package app

import (
	"time"

	"lingua_edu_backend/docs"
	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/middleware"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/pkg/monitoring"
	"lingua_edu_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, repos, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/me", c.auth.Me)

	// 模块与层级
	rg.GET("/modules", c.module.ListModules)
	rg.GET("/levels/:id/tests", c.module.ListLevelTests)

	// 作答生命周期
	rg.POST("/tests/:id/attempts", c.attempt.StartAttempt)
	rg.GET("/attempts/:id", c.attempt.GetAttempt)
	rg.PUT("/attempts/:id/questions/:questionId/answer", c.attempt.RecordAnswer)

	// 录音。上传要走转码与对象存储，按学生单独限流
	rg.POST("/attempts/:id/questions/:questionId/recording/start", c.attempt.StartRecording)
	rg.POST("/attempts/:id/questions/:questionId/recording/stop", c.attempt.StopRecording)
	rg.POST("/attempts/:id/questions/:questionId/recording",
		security.StudentRateLimiter(30, time.Minute), c.attempt.UploadRecording)

	// 违规与交卷
	rg.POST("/attempts/:id/violations", c.attempt.RegisterViolation)
	rg.POST("/attempts/:id/submit", c.attempt.Submit)

	// 校验与成绩
	rg.GET("/attempts/:id/questions/:questionId/validation", c.attempt.GetValidation)
	rg.GET("/attempts/:id/result", c.attempt.GetResult)
	rg.GET("/results", c.attempt.ListResults)
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("/admin")
	teacher.Use(middleware.RoleMiddleware(model.Teacher, model.Admin))
	{
		// 内容管理
		teacher.POST("/modules", c.module.CreateModule)
		teacher.POST("/levels", c.module.CreateLevel)
		teacher.POST("/tests", c.module.CreateTest)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		// 访问授权覆盖，优先于自动解锁重算
		admin.PUT("/students/:id/levels/:levelId/access", c.access.SetLevelAccess)
		admin.PUT("/students/:id/modules/:moduleId/access", c.access.SetModuleAccess)
		admin.GET("/students/:id/grants", c.access.ListGrants)
	}
}
