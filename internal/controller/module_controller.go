package controller

import (
	"encoding/json"
	"errors"

	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/service"
	"lingua_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ModuleController struct {
	ModuleRepo  *repository.ModuleRepository
	TestRepo    *repository.TestRepository
	Progression *service.ProgressionService
}

func NewModuleController(moduleRepo *repository.ModuleRepository, testRepo *repository.TestRepository, progression *service.ProgressionService) *ModuleController {
	return &ModuleController{
		ModuleRepo:  moduleRepo,
		TestRepo:    testRepo,
		Progression: progression,
	}
}

// ListModules godoc
// @Summary 模块列表及解锁状态
// @Description 返回当前学生可见的全部模块、层级及其解锁标记
// @Tags 模块
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.ModuleAccess} "成功"
// @Failure 401 {object} util.Response "未认证"
// @Router /api/modules [get]
func (c *ModuleController) ListModules(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	modules, err := c.Progression.ListModules(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, modules)
}

// ListLevelTests godoc
// @Summary 层级下的测试列表
// @Description 层级未解锁时返回 403
// @Tags 模块
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "层级ID"
// @Success 200 {object} util.Response{data=[]model.Test} "成功"
// @Failure 403 {object} util.Response "层级未解锁"
// @Router /api/levels/{id}/tests [get]
func (c *ModuleController) ListLevelTests(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	levelID := util.MustParseUint(ctx.Param("id"))

	allowed, err := c.Progression.CanAccessLevel(claims.UserID, levelID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	if !allowed {
		util.Forbidden(ctx)
		return
	}

	tests, err := c.TestRepo.ListByLevel(levelID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, tests)
}

// CreateModuleRequest 创建模块请求
type CreateModuleRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category" binding:"required,oneof=sequential always_open"`
	Position int    `json:"position" binding:"required,min=1"`
}

// CreateModule godoc
// @Summary 创建技能模块
// @Tags 模块管理
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   body body CreateModuleRequest true "模块信息"
// @Success 201 {object} util.Response{data=model.SkillModule} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/admin/modules [post]
func (c *ModuleController) CreateModule(ctx *gin.Context) {
	var req CreateModuleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	module := &model.SkillModule{
		Name:     req.Name,
		Category: model.ModuleCategory(req.Category),
		Position: req.Position,
	}
	if err := c.ModuleRepo.Create(module); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, module)
}

// CreateLevelRequest 创建层级请求
type CreateLevelRequest struct {
	ModuleID uint   `json:"moduleId" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Position int    `json:"position" binding:"required,min=1"`
}

// CreateLevel godoc
// @Summary 在模块下创建层级
// @Description 位置必须紧接模块内现有末位，保证层级位置连续且唯一
// @Tags 模块管理
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   body body CreateLevelRequest true "层级信息"
// @Success 201 {object} util.Response{data=model.Level} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "模块不存在"
// @Router /api/admin/levels [post]
func (c *ModuleController) CreateLevel(ctx *gin.Context) {
	var req CreateLevelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if _, err := c.ModuleRepo.FindByID(req.ModuleID); err != nil {
		if errors.Is(err, util.ErrModuleNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	level := &model.Level{
		ModuleID: req.ModuleID,
		Name:     req.Name,
		Position: req.Position,
	}
	if err := c.ModuleRepo.CreateLevel(level); err != nil {
		if errors.Is(err, util.ErrLevelPositionGap) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, level)
}

// CreateQuestionRequest 创建题目请求（题型决定哪些字段生效）
type CreateQuestionRequest struct {
	QuestionType       string          `json:"questionType" binding:"required,oneof=mcq audio_listening audio_speaking"`
	Prompt             string          `json:"prompt"`
	Options            json.RawMessage `json:"options"`
	CorrectOption      string          `json:"correctOption"`
	AudioURL           string          `json:"audioUrl"`
	ExpectedTranscript string          `json:"expectedTranscript"`
	Weight             int             `json:"weight"`
	Position           int             `json:"position"`
}

// CreateTestRequest 创建测试请求
type CreateTestRequest struct {
	LevelID   uint                    `json:"levelId" binding:"required"`
	Title     string                  `json:"title" binding:"required"`
	TestType  string                  `json:"testType" binding:"required,oneof=practice online_exam"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// CreateTest godoc
// @Summary 创建测试及其题目
// @Description 音频题必须携带期望转写文本，否则无法校验
// @Tags 模块管理
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   body body CreateTestRequest true "测试信息"
// @Success 201 {object} util.Response{data=model.Test} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "层级不存在"
// @Router /api/admin/tests [post]
func (c *ModuleController) CreateTest(ctx *gin.Context) {
	var req CreateTestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if _, err := c.ModuleRepo.FindLevelByID(req.LevelID); err != nil {
		if errors.Is(err, util.ErrLevelNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	test := &model.Test{
		LevelID:  req.LevelID,
		Title:    req.Title,
		TestType: model.TestType(req.TestType),
	}
	for i, q := range req.Questions {
		qt := model.QuestionType(q.QuestionType)
		if qt.IsAudio() && q.ExpectedTranscript == "" {
			util.BadRequest(ctx, "audio question requires expectedTranscript")
			return
		}
		if qt == model.QuestionMCQ && q.CorrectOption == "" {
			util.BadRequest(ctx, "mcq question requires correctOption")
			return
		}
		weight := q.Weight
		if weight == 0 {
			weight = 1
		}
		position := q.Position
		if position == 0 {
			position = i + 1
		}
		test.Questions = append(test.Questions, model.Question{
			QuestionType:       qt,
			Prompt:             q.Prompt,
			Options:            q.Options,
			CorrectOption:      q.CorrectOption,
			AudioURL:           q.AudioURL,
			ExpectedTranscript: q.ExpectedTranscript,
			Weight:             weight,
			Position:           position,
		})
	}

	if err := c.TestRepo.Create(test); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, test)
}
