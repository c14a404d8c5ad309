package repository

import (
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/util"

	"gorm.io/gorm"
)

type ModuleRepository struct {
	DB *gorm.DB
}

func NewModuleRepository(db *gorm.DB) *ModuleRepository {
	return &ModuleRepository{DB: db}
}

func (r *ModuleRepository) Create(module *model.SkillModule) error {
	return r.DB.Create(module).Error
}

// CreateLevel 只接受 max(position)+1：模块内层级位置必须连续且唯一，
// 位置断档会让解锁门控找不到前驱。
func (r *ModuleRepository) CreateLevel(level *model.Level) error {
	var maxPos int
	err := r.DB.Model(&model.Level{}).Where("module_id = ?", level.ModuleID).
		Select("COALESCE(MAX(position), 0)").Scan(&maxPos).Error
	if err != nil {
		return err
	}
	if level.Position != maxPos+1 {
		return util.ErrLevelPositionGap
	}
	return r.DB.Create(level).Error
}

// ListWithLevels 按 Position 返回全部模块及其层级
func (r *ModuleRepository) ListWithLevels() ([]model.SkillModule, error) {
	var modules []model.SkillModule
	err := r.DB.Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Order("position ASC").Find(&modules).Error
	return modules, err
}

func (r *ModuleRepository) FindByID(id uint) (*model.SkillModule, error) {
	var m model.SkillModule
	err := r.DB.Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&m, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, util.ErrModuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *ModuleRepository) FindLevelByID(id uint) (*model.Level, error) {
	var l model.Level
	err := r.DB.First(&l, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, util.ErrLevelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindPredecessorLevel 返回同模块内 Position 紧邻的前驱层级；首层返回 nil
func (r *ModuleRepository) FindPredecessorLevel(level *model.Level) (*model.Level, error) {
	if level.Position <= 1 {
		return nil, nil
	}
	var prev model.Level
	err := r.DB.Where("module_id = ? AND position = ?", level.ModuleID, level.Position-1).First(&prev).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// FindPredecessorModule 返回顺序门控序列中 Position 紧邻的前驱模块；首个返回 nil。
// 永久开放类目不参与顺序，不会作为前驱出现。
func (r *ModuleRepository) FindPredecessorModule(module *model.SkillModule) (*model.SkillModule, error) {
	var prev model.SkillModule
	err := r.DB.Where("category = ? AND position < ?", model.CategorySequential, module.Position).
		Order("position DESC").First(&prev).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// FindLastLevel 返回模块内 Position 最大的层级
func (r *ModuleRepository) FindLastLevel(moduleID uint) (*model.Level, error) {
	var l model.Level
	err := r.DB.Where("module_id = ?", moduleID).Order("position DESC").First(&l).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindNextLevel 返回同模块内的下一层级；末层返回 nil
func (r *ModuleRepository) FindNextLevel(level *model.Level) (*model.Level, error) {
	var next model.Level
	err := r.DB.Where("module_id = ? AND position = ?", level.ModuleID, level.Position+1).First(&next).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// FindNextModule 返回顺序门控序列中的下一模块；末个返回 nil
func (r *ModuleRepository) FindNextModule(module *model.SkillModule) (*model.SkillModule, error) {
	var next model.SkillModule
	err := r.DB.Where("category = ? AND position > ?", model.CategorySequential, module.Position).
		Order("position ASC").First(&next).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}
