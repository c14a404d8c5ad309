package repository

import (
	"lingua_edu_backend/internal/model"

	"gorm.io/gorm"
)

type TestRepository struct {
	DB *gorm.DB
}

func NewTestRepository(db *gorm.DB) *TestRepository {
	return &TestRepository{DB: db}
}

func (r *TestRepository) Create(test *model.Test) error {
	return r.DB.Create(test).Error
}

// FindByID 加载测试及其题目（按 Position 排序）
func (r *TestRepository) FindByID(id uint) (*model.Test, error) {
	var t model.Test
	if err := r.DB.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TestRepository) FindQuestionByID(id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *TestRepository) ListByLevel(levelID uint) ([]model.Test, error) {
	var tests []model.Test
	err := r.DB.Where("level_id = ?", levelID).Find(&tests).Error
	return tests, err
}
