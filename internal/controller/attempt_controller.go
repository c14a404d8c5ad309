package controller

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/service"
	"lingua_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AttemptController struct {
	Session    *service.SessionService
	ResultRepo *repository.ResultRepository
}

func NewAttemptController(session *service.SessionService, resultRepo *repository.ResultRepository) *AttemptController {
	return &AttemptController{Session: session, ResultRepo: resultRepo}
}

// mapSessionError 将会话层错误映射到 HTTP 状态码
func mapSessionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrAccessDenied), errors.Is(err, util.ErrAttemptNotOwned):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrAttemptNotFound), errors.Is(err, util.ErrTestNotFound),
		errors.Is(err, util.ErrLevelNotFound), errors.Is(err, util.ErrQuestionNotInTest),
		errors.Is(err, util.ErrRecordingNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrAlreadySubmitted):
		util.Conflict(ctx, "作答已提交")
	case errors.Is(err, util.ErrIncompleteAttempt):
		util.UnprocessableEntity(ctx, "尚有题目未作答")
	case errors.Is(err, util.ErrNotAudioQuestion), errors.Is(err, util.ErrNoQuestions):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// StartAttempt godoc
// @Summary 开始或恢复作答
// @Description 层级未解锁返回 403；已有进行中作答时原样返回（题序不变）
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "测试ID"
// @Success 201 {object} util.Response{data=object} "作答及题目列表"
// @Failure 403 {object} util.Response "层级未解锁"
// @Failure 404 {object} util.Response "测试不存在"
// @Router /api/tests/{id}/attempts [post]
func (c *AttemptController) StartAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	testID := util.MustParseUint(ctx.Param("id"))

	attempt, err := c.Session.StartAttempt(claims.UserID, testID)
	if err != nil {
		mapSessionError(ctx, err)
		return
	}

	questions, err := c.Session.OrderedQuestions(attempt)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, gin.H{
		"attempt":   attempt,
		"questions": questions,
	})
}

// GetAttempt godoc
// @Summary 查询作答及固化题序
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/attempts/{id} [get]
func (c *AttemptController) GetAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))

	attempt, err := c.Session.AttemptRepo.FindByID(attemptID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	if attempt.StudentID != claims.UserID {
		util.Forbidden(ctx)
		return
	}

	questions, err := c.Session.OrderedQuestions(attempt)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"attempt":   attempt,
		"questions": questions,
	})
}

// AnswerRequest 选择题作答
type AnswerRequest struct {
	SelectedOption string `json:"selectedOption" binding:"required"`
}

// RecordAnswer godoc
// @Summary 记录选择题作答
// @Description 重复作答覆盖旧值
// @Tags 作答
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Param   questionId path int true "题目ID"
// @Param   body body AnswerRequest true "作答内容"
// @Success 200 {object} util.Response "成功"
// @Failure 409 {object} util.Response "作答已提交"
// @Router /api/attempts/{id}/questions/{questionId}/answer [put]
func (c *AttemptController) RecordAnswer(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	var req AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	attemptID := util.MustParseUint(ctx.Param("id"))
	questionID := util.MustParseUint(ctx.Param("questionId"))
	if err := c.Session.RecordAnswer(claims.UserID, attemptID, questionID, req.SelectedOption); err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// StartRecording godoc
// @Summary 开始录音计时
// @Description 听力题到达硬上限后服务端自动停止
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Param   questionId path int true "题目ID"
// @Success 200 {object} util.Response "成功"
// @Router /api/attempts/{id}/questions/{questionId}/recording/start [post]
func (c *AttemptController) StartRecording(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))
	questionID := util.MustParseUint(ctx.Param("questionId"))

	if err := c.Session.StartRecording(claims.UserID, attemptID, questionID); err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// StopRecording godoc
// @Summary 停止录音计时
// @Description 若服务端已按上限强停，则返回已固化的时长与 forced=true
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Param   questionId path int true "题目ID"
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/attempts/{id}/questions/{questionId}/recording/stop [post]
func (c *AttemptController) StopRecording(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))
	questionID := util.MustParseUint(ctx.Param("questionId"))

	seconds, forced, err := c.Session.StopRecording(claims.UserID, attemptID, questionID)
	if err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"seconds": seconds, "forced": forced})
}

// UploadRecording godoc
// @Summary 上传录音作为该题答案
// @Description 听力题超过硬上限的录音会被截断到上限后保留
// @Tags 作答
// @Accept  multipart/form-data
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Param   questionId path int true "题目ID"
// @Param   file formData file true "录音文件"
// @Success 200 {object} util.Response{data=model.AttemptAnswer} "成功"
// @Failure 400 {object} util.Response "文件格式不支持"
// @Router /api/attempts/{id}/questions/{questionId}/recording [post]
func (c *AttemptController) UploadRecording(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))
	questionID := util.MustParseUint(ctx.Param("questionId"))

	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "缺少录音文件")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	allowed := false
	for _, e := range util.AllowedAudioExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		util.BadRequest(ctx, "不支持的音频格式: "+ext)
		return
	}

	tmpPath := filepath.Join(os.TempDir(), uuid.New().String()+ext)
	if err := ctx.SaveUploadedFile(file, tmpPath); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer os.Remove(tmpPath)

	answer, err := c.Session.SaveRecording(ctx.Request.Context(), claims.UserID, attemptID, questionID, tmpPath, ext)
	if err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// RegisterViolation godoc
// @Summary 上报违规（失焦/切屏）
// @Description 返回累计次数；达到限额时按策略自动交卷
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/attempts/{id}/violations [post]
func (c *AttemptController) RegisterViolation(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))

	count, autoSubmitted, err := c.Session.RegisterViolation(ctx.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"count": count, "autoSubmitted": autoSubmitted})
}

// Submit godoc
// @Summary 交卷
// @Description 未答完返回 422；重复提交返回 409；转写服务不可用返回 502 并附失败题号，作答退回进行中可重试
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=model.AttemptResult} "成功"
// @Failure 409 {object} util.Response "作答已提交"
// @Failure 422 {object} util.Response "尚有题目未作答"
// @Failure 502 {object} util.Response "转写服务不可用"
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))

	result, failed, err := c.Session.Submit(ctx.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		if errors.Is(err, util.ErrTranscriptionUnavailable) {
			ctx.JSON(502, util.Response{
				Code:    502,
				Message: "转写服务暂不可用，请稍后重试",
				Data:    gin.H{"failedQuestions": failed},
			})
			return
		}
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// GetValidation godoc
// @Summary 查询某题的口语校验结果
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Param   questionId path int true "题目ID"
// @Success 200 {object} util.Response{data=model.ValidationResult} "成功"
// @Router /api/attempts/{id}/questions/{questionId}/validation [get]
func (c *AttemptController) GetValidation(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))
	questionID := util.MustParseUint(ctx.Param("questionId"))

	validation, err := c.Session.GetValidation(claims.UserID, attemptID, questionID)
	if err != nil {
		mapSessionError(ctx, err)
		return
	}
	util.Success(ctx, validation)
}

// GetResult godoc
// @Summary 查询作答成绩
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "作答ID"
// @Success 200 {object} util.Response{data=model.AttemptResult} "成功"
// @Failure 404 {object} util.Response "尚未出分"
// @Router /api/attempts/{id}/result [get]
func (c *AttemptController) GetResult(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID := util.MustParseUint(ctx.Param("id"))

	attempt, err := c.Session.AttemptRepo.FindByID(attemptID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	if attempt.StudentID != claims.UserID {
		util.Forbidden(ctx)
		return
	}

	result, err := c.ResultRepo.FindByAttempt(attemptID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	if result == nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, result)
}

// ListResults godoc
// @Summary 当前学生的历史成绩
// @Tags 作答
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.AttemptResult} "成功"
// @Router /api/results [get]
func (c *AttemptController) ListResults(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	results, err := c.ResultRepo.ListByStudent(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, results)
}
