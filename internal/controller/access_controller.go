package controller

import (
	"errors"

	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/service"
	"lingua_edu_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AccessController 管理员手工解锁/加锁入口。
// 手工授权的优先级高于自动重算，自动重算不会将其降级。
type AccessController struct {
	Progression *service.ProgressionService
	GrantRepo   *repository.AccessGrantRepository
	UserRepo    *repository.UserRepository
}

func NewAccessController(progression *service.ProgressionService, grantRepo *repository.AccessGrantRepository, userRepo *repository.UserRepository) *AccessController {
	return &AccessController{Progression: progression, GrantRepo: grantRepo, UserRepo: userRepo}
}

// requireStudent 校验路径里的学生确实存在，避免给误敲的ID落授权记录
func (c *AccessController) requireStudent(ctx *gin.Context) (uint, bool) {
	studentID := util.MustParseUint(ctx.Param("id"))
	if _, err := c.UserRepo.FindByID(studentID); err != nil {
		if errors.Is(err, util.ErrUserNotFound) {
			util.NotFound(ctx)
			return 0, false
		}
		util.LogInternalError(ctx, err)
		return 0, false
	}
	return studentID, true
}

func mapAccessError(ctx *gin.Context, err error) {
	if errors.Is(err, util.ErrLevelNotFound) || errors.Is(err, util.ErrModuleNotFound) {
		util.NotFound(ctx)
		return
	}
	util.LogInternalError(ctx, err)
}

// AccessRequest 访问开关
type AccessRequest struct {
	Unlocked *bool `json:"unlocked" binding:"required"`
}

// SetLevelAccess godoc
// @Summary 管理员设置层级访问权
// @Tags 访问管理
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "学生ID"
// @Param   levelId path int true "层级ID"
// @Param   body body AccessRequest true "开关"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "学生或层级不存在"
// @Router /api/admin/students/{id}/levels/{levelId}/access [put]
func (c *AccessController) SetLevelAccess(ctx *gin.Context) {
	var req AccessRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	studentID, ok := c.requireStudent(ctx)
	if !ok {
		return
	}
	levelID := util.MustParseUint(ctx.Param("levelId"))

	if err := c.Progression.AdminSetLevelAccess(ctx.Request.Context(), studentID, levelID, *req.Unlocked); err != nil {
		mapAccessError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// SetModuleAccess godoc
// @Summary 管理员设置模块访问权
// @Tags 访问管理
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "学生ID"
// @Param   moduleId path int true "模块ID"
// @Param   body body AccessRequest true "开关"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "学生或模块不存在"
// @Router /api/admin/students/{id}/modules/{moduleId}/access [put]
func (c *AccessController) SetModuleAccess(ctx *gin.Context) {
	var req AccessRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	studentID, ok := c.requireStudent(ctx)
	if !ok {
		return
	}
	moduleID := util.MustParseUint(ctx.Param("moduleId"))

	if err := c.Progression.AdminSetModuleAccess(ctx.Request.Context(), studentID, moduleID, *req.Unlocked); err != nil {
		mapAccessError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ListGrants godoc
// @Summary 查看某学生的全部访问授权
// @Tags 访问管理
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "学生ID"
// @Success 200 {object} util.Response{data=[]model.AccessGrant} "成功"
// @Failure 404 {object} util.Response "学生不存在"
// @Router /api/admin/students/{id}/grants [get]
func (c *AccessController) ListGrants(ctx *gin.Context) {
	studentID, ok := c.requireStudent(ctx)
	if !ok {
		return
	}

	grants, err := c.GrantRepo.ListByStudent(studentID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, grants)
}
