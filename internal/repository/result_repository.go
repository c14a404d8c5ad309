package repository

import (
	"lingua_edu_backend/internal/model"

	"gorm.io/gorm"
)

type ResultRepository struct {
	DB *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{DB: db}
}

func (r *ResultRepository) Create(result *model.AttemptResult) error {
	return r.DB.Create(result).Error
}

func (r *ResultRepository) FindByAttempt(attemptID uint) (*model.AttemptResult, error) {
	var res model.AttemptResult
	err := r.DB.Where("attempt_id = ?", attemptID).First(&res).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// BestAverageScore 学生在该层级的历史最高平均分。
// 并发提交以最大值收敛，不采用 last-write-wins。
func (r *ResultRepository) BestAverageScore(studentID, levelID uint) (float64, error) {
	var best *float64
	err := r.DB.Model(&model.AttemptResult{}).
		Where("student_id = ? AND level_id = ?", studentID, levelID).
		Select("MAX(average_score)").Scan(&best).Error
	if err != nil {
		return 0, err
	}
	if best == nil {
		return 0, nil
	}
	return *best, nil
}

func (r *ResultRepository) ListByStudent(studentID uint) ([]model.AttemptResult, error) {
	var results []model.AttemptResult
	err := r.DB.Where("student_id = ?", studentID).Order("id DESC").Find(&results).Error
	return results, err
}
