package repository

import (
	"time"

	"lingua_edu_backend/internal/model"

	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(attempt *model.Attempt) error {
	return r.DB.Create(attempt).Error
}

func (r *AttemptRepository) Save(attempt *model.Attempt) error {
	return r.DB.Save(attempt).Error
}

func (r *AttemptRepository) FindByID(id uint) (*model.Attempt, error) {
	var a model.Attempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindInProgress 查找学生在该测试上的未提交作答，用于断线恢复
func (r *AttemptRepository) FindInProgress(studentID, testID uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.Where("student_id = ? AND test_id = ? AND status = ?",
		studentID, testID, model.AttemptInProgress).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkSubmitted 单写者 compare-and-set：仅当仍为 in_progress 时置为 submitted。
// 返回 false 表示已被其他提交抢先（重复提交）。
func (r *AttemptRepository) MarkSubmitted(attemptID uint, at time.Time) (bool, error) {
	res := r.DB.Model(&model.Attempt{}).
		Where("id = ? AND status = ?", attemptID, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":       model.AttemptSubmitted,
			"submitted_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Reopen 把提交失败（如转写不可用）的作答退回 in_progress，保留已收集的答案
func (r *AttemptRepository) Reopen(attemptID uint) error {
	return r.DB.Model(&model.Attempt{}).
		Where("id = ?", attemptID).
		Updates(map[string]interface{}{
			"status":       model.AttemptInProgress,
			"submitted_at": nil,
		}).Error
}

func (r *AttemptRepository) IncrementViolations(attemptID uint) (int, error) {
	if err := r.DB.Model(&model.Attempt{}).
		Where("id = ?", attemptID).
		UpdateColumn("violation_count", gorm.Expr("violation_count + 1")).Error; err != nil {
		return 0, err
	}
	var a model.Attempt
	if err := r.DB.Select("violation_count").First(&a, attemptID).Error; err != nil {
		return 0, err
	}
	return a.ViolationCount, nil
}

// UpsertAnswer 每题一条答案，重复作答覆盖
func (r *AttemptRepository) UpsertAnswer(answer *model.AttemptAnswer) error {
	var existing model.AttemptAnswer
	err := r.DB.Where("attempt_id = ? AND question_id = ?", answer.AttemptID, answer.QuestionID).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if existing.ID == 0 {
		return r.DB.Create(answer).Error
	}
	existing.SelectedOption = answer.SelectedOption
	existing.RecordingURL = answer.RecordingURL
	existing.RecordingSeconds = answer.RecordingSeconds
	existing.Transcript = answer.Transcript
	if err := r.DB.Save(&existing).Error; err != nil {
		return err
	}
	answer.ID = existing.ID
	return nil
}

func (r *AttemptRepository) SaveAnswer(answer *model.AttemptAnswer) error {
	return r.DB.Save(answer).Error
}

func (r *AttemptRepository) GetAnswers(attemptID uint) ([]model.AttemptAnswer, error) {
	var answers []model.AttemptAnswer
	err := r.DB.Where("attempt_id = ?", attemptID).Find(&answers).Error
	return answers, err
}

func (r *AttemptRepository) FindAnswer(attemptID, questionID uint) (*model.AttemptAnswer, error) {
	var a model.AttemptAnswer
	err := r.DB.Where("attempt_id = ? AND question_id = ?", attemptID, questionID).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateValidation 校验结果不可变：总是插入新行，最新一行为当前结果
func (r *AttemptRepository) CreateValidation(v *model.ValidationResult) error {
	return r.DB.Create(v).Error
}

func (r *AttemptRepository) LatestValidation(answerID uint) (*model.ValidationResult, error) {
	var v model.ValidationResult
	err := r.DB.Where("answer_id = ?", answerID).Order("id DESC").First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
