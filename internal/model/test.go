package model

import "encoding/json"

type TestType string

const (
	TestPractice   TestType = "practice"
	TestOnlineExam TestType = "online_exam"
)

type QuestionType string

const (
	QuestionMCQ            QuestionType = "mcq"
	QuestionAudioListening QuestionType = "audio_listening"
	QuestionAudioSpeaking  QuestionType = "audio_speaking"
)

// IsAudio 判断题型是否需要录音作答
func (t QuestionType) IsAudio() bool {
	return t == QuestionAudioListening || t == QuestionAudioSpeaking
}

// swagger:model Test
type Test struct {
	BaseModel
	LevelID   uint       `gorm:"index;type:bigint unsigned;not null" json:"levelId"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	TestType  TestType   `gorm:"size:20;default:'practice'" json:"testType"`
	Questions []Question `gorm:"foreignKey:TestID" json:"questions,omitempty"`
}

func (Test) TableName() string {
	return "tests"
}

// Question 题目。字段按题型使用：
//   - mcq: Prompt + Options + CorrectOption
//   - audio_listening: AudioURL + ExpectedTranscript（学生听后复述）
//   - audio_speaking: Prompt + ExpectedTranscript（学生朗读）
//
// swagger:model Question
type Question struct {
	BaseModel
	TestID             uint            `gorm:"index;type:bigint unsigned;not null" json:"testId"`
	QuestionType       QuestionType    `gorm:"size:20;not null" json:"questionType"`
	Prompt             string          `gorm:"type:text" json:"prompt"`
	Options            json.RawMessage `gorm:"type:json" json:"options,omitempty"` // mcq 选项 {key: text}
	CorrectOption      string          `gorm:"size:50" json:"-"`
	AudioURL           string          `gorm:"size:255" json:"audioUrl,omitempty"`
	ExpectedTranscript string          `gorm:"type:text" json:"-"`
	Weight             int             `gorm:"default:1" json:"weight"`
	Position           int             `gorm:"default:0" json:"position"`
}

func (Question) TableName() string {
	return "questions"
}
