package model

import (
	"encoding/json"
	"time"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

// Attempt 一次作答。QuestionOrder 在首次开始时打乱并固化，
// 之后恢复作答必须原样复用，不得重新洗牌。
// swagger:model Attempt
type Attempt struct {
	BaseModel
	TestID         uint            `gorm:"index;type:bigint unsigned;not null" json:"testId"`
	StudentID      uint            `gorm:"index;type:bigint unsigned;not null" json:"studentId"`
	Status         AttemptStatus   `gorm:"size:20;default:'in_progress'" json:"status"`
	QuestionOrder  json.RawMessage `gorm:"type:json" json:"questionOrder"` // 题目ID数组快照
	ViolationCount int             `gorm:"default:0" json:"violationCount"`
	StartedAt      time.Time       `json:"startedAt"`
	SubmittedAt    *time.Time      `json:"submittedAt,omitempty"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// AttemptAnswer 每题一条，重复作答覆盖（last write wins）
// swagger:model AttemptAnswer
type AttemptAnswer struct {
	BaseModel
	AttemptID        uint    `gorm:"index:idx_attempt_question,unique;type:bigint unsigned;not null" json:"attemptId"`
	QuestionID       uint    `gorm:"index:idx_attempt_question,unique;type:bigint unsigned;not null" json:"questionId"`
	SelectedOption   string  `gorm:"size:50" json:"selectedOption,omitempty"`
	RecordingURL     string  `gorm:"size:255" json:"recordingUrl,omitempty"`
	RecordingSeconds float64 `json:"recordingSeconds,omitempty"`
	Transcript       string  `gorm:"type:text" json:"transcript,omitempty"`
}

func (AttemptAnswer) TableName() string {
	return "attempt_answers"
}

// ValidationResult 口语校验结果。创建后不可变，重新校验产生新行。
// swagger:model ValidationResult
type ValidationResult struct {
	BaseModel
	AnswerID           uint            `gorm:"index;type:bigint unsigned;not null" json:"answerId"`
	OverallScore       float64         `json:"overallScore"` // 0..100
	WordAccuracy       float64         `json:"wordAccuracy"`
	WordOrderScore     float64         `json:"wordOrderScore"`
	VocabularyCoverage float64         `json:"vocabularyCoverage"`
	CharSimilarity     float64         `json:"charSimilarity"`
	MissingWords       json.RawMessage `gorm:"type:json" json:"missingWords"`
	ExtraWords         json.RawMessage `gorm:"type:json" json:"extraWords"`
	Mispronounced      json.RawMessage `gorm:"type:json" json:"mispronounced"`
}

func (ValidationResult) TableName() string {
	return "validation_results"
}

// AttemptResult 整卷聚合结果，提交后写入并触发解锁重算
// swagger:model AttemptResult
type AttemptResult struct {
	BaseModel
	AttemptID      uint    `gorm:"index;type:bigint unsigned;not null" json:"attemptId"`
	StudentID      uint    `gorm:"index;type:bigint unsigned;not null" json:"studentId"`
	LevelID        uint    `gorm:"index;type:bigint unsigned;not null" json:"levelId"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	AverageScore   float64 `json:"averageScore"`
}

func (AttemptResult) TableName() string {
	return "attempt_results"
}

// WordMatch 误读词：期望词与学生实际所说最接近词的配对
type WordMatch struct {
	Original   string  `json:"original"`
	Student    string  `json:"student"`
	Similarity float64 `json:"similarity"`
}

// TranscriptMetrics 文本比对的原始度量（未持久化，由比对器返回）
type TranscriptMetrics struct {
	WordAccuracy       float64     `json:"wordAccuracy"`
	WordOrderScore     float64     `json:"wordOrderScore"`
	VocabularyCoverage float64     `json:"vocabularyCoverage"`
	CharSimilarity     float64     `json:"charSimilarity"`
	MissingWords       []string    `json:"missingWords"`
	ExtraWords         []string    `json:"extraWords"`
	Mispronounced      []WordMatch `json:"mispronounced"`
}

// Verdict 单题判定结果。Graded=false 表示转写服务失败、该题可重试。
type Verdict struct {
	QuestionID uint               `json:"questionId"`
	Type       QuestionType       `json:"type"`
	Score      float64            `json:"score"` // 0..100
	IsValid    bool               `json:"isValid"`
	Graded     bool               `json:"graded"`
	Metrics    *TranscriptMetrics `json:"metrics,omitempty"`
}
