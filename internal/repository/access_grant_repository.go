package repository

import (
	"lingua_edu_backend/internal/model"

	"gorm.io/gorm"
)

type AccessGrantRepository struct {
	DB *gorm.DB
}

func NewAccessGrantRepository(db *gorm.DB) *AccessGrantRepository {
	return &AccessGrantRepository{DB: db}
}

func (r *AccessGrantRepository) FindForLevel(studentID, levelID uint) (*model.AccessGrant, error) {
	var g model.AccessGrant
	err := r.DB.Where("student_id = ? AND level_id = ?", studentID, levelID).First(&g).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *AccessGrantRepository) FindForModule(studentID, moduleID uint) (*model.AccessGrant, error) {
	var g model.AccessGrant
	err := r.DB.Where("student_id = ? AND module_id = ? AND level_id = 0", studentID, moduleID).First(&g).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertAutomatic 写入自动解锁记录。管理员覆盖优先：已有 admin_override
// 的记录不被自动重算改写。
func (r *AccessGrantRepository) UpsertAutomatic(grant *model.AccessGrant) error {
	var existing model.AccessGrant
	q := r.DB.Where("student_id = ?", grant.StudentID)
	if grant.LevelID > 0 {
		q = q.Where("level_id = ?", grant.LevelID)
	} else {
		q = q.Where("module_id = ? AND level_id = 0", grant.ModuleID)
	}
	err := q.First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if existing.ID == 0 {
		grant.Source = model.GrantAutomatic
		return r.DB.Create(grant).Error
	}
	if existing.Source == model.GrantAdminOverride {
		return nil
	}
	// 自动来源只升不降：已解锁的不回锁
	if existing.Unlocked && !grant.Unlocked {
		return nil
	}
	existing.Unlocked = grant.Unlocked
	existing.Source = model.GrantAutomatic
	return r.DB.Save(&existing).Error
}

// UpsertOverride 管理员强制设置解锁状态
func (r *AccessGrantRepository) UpsertOverride(grant *model.AccessGrant) error {
	var existing model.AccessGrant
	q := r.DB.Where("student_id = ?", grant.StudentID)
	if grant.LevelID > 0 {
		q = q.Where("level_id = ?", grant.LevelID)
	} else {
		q = q.Where("module_id = ? AND level_id = 0", grant.ModuleID)
	}
	err := q.First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if existing.ID == 0 {
		grant.Source = model.GrantAdminOverride
		return r.DB.Create(grant).Error
	}
	existing.Unlocked = grant.Unlocked
	existing.Source = model.GrantAdminOverride
	return r.DB.Save(&existing).Error
}

func (r *AccessGrantRepository) ListByStudent(studentID uint) ([]model.AccessGrant, error) {
	var grants []model.AccessGrant
	err := r.DB.Where("student_id = ?", studentID).Find(&grants).Error
	return grants, err
}
