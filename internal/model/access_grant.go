package model

type GrantSource string

const (
	// GrantAutomatic 由解锁状态机根据成绩写入
	GrantAutomatic GrantSource = "automatic"
	// GrantAdminOverride 管理员强制设置，自动重算不得降级
	GrantAdminOverride GrantSource = "admin_override"
)

// AccessGrant (student, module) 或 (student, level) 的解锁记录。
// ModuleID 与 LevelID 恰好一个非零。
// swagger:model AccessGrant
type AccessGrant struct {
	BaseModel
	StudentID uint        `gorm:"index:idx_grant_student;type:bigint unsigned;not null" json:"studentId"`
	ModuleID  uint        `gorm:"index:idx_grant_student;type:bigint unsigned" json:"moduleId,omitempty"`
	LevelID   uint        `gorm:"index:idx_grant_student;type:bigint unsigned" json:"levelId,omitempty"`
	Unlocked  bool        `gorm:"default:false" json:"unlocked"`
	Source    GrantSource `gorm:"size:20;default:'automatic'" json:"source"`
}

func (AccessGrant) TableName() string {
	return "access_grants"
}
