package model

// ModuleCategory 决定模块是否受顺序解锁门控
type ModuleCategory string

const (
	// CategorySequential 顺序门控：上一关达标后才解锁下一关
	CategorySequential ModuleCategory = "sequential"
	// CategoryAlwaysOpen 永久开放（如 CRT 练习类目），不参与门控
	CategoryAlwaysOpen ModuleCategory = "always_open"
)

// SkillModule 技能模块（听力/口语/语法等），按 Position 排序
// swagger:model SkillModule
type SkillModule struct {
	BaseModel
	Name     string         `gorm:"size:255;not null" json:"name"`
	Category ModuleCategory `gorm:"size:20;default:'sequential'" json:"category"`
	Position int            `gorm:"not null;index" json:"position"`
	Levels   []Level        `gorm:"foreignKey:ModuleID" json:"levels,omitempty"`
}

func (SkillModule) TableName() string {
	return "skill_modules"
}

// Level 模块内的难度层级，Position 在模块内唯一且连续
// swagger:model Level
type Level struct {
	BaseModel
	ModuleID uint   `gorm:"index;type:bigint unsigned;not null" json:"moduleId"`
	Name     string `gorm:"size:255;not null" json:"name"`
	Position int    `gorm:"not null" json:"position"`
}

func (Level) TableName() string {
	return "levels"
}
