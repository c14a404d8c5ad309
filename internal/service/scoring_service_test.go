package service

import (
	"context"
	"testing"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTranscriber 固定返回预设转写或错误
type fakeTranscriber struct {
	transcript string
	err        error
	calls      int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.transcript, nil
}

func newTestScoring(tr Transcriber) *ScoringService {
	return NewScoringService(tr, &config.AssessmentConfig{
		MasteryThreshold: 60,
		ScoreTolerance:   80,
	})
}

func TestGradeMCQ(t *testing.T) {
	s := newTestScoring(&fakeTranscriber{})
	q := &model.Question{QuestionType: model.QuestionMCQ, CorrectOption: "b"}

	v, err := s.Grade(context.Background(), q, &model.AttemptAnswer{SelectedOption: "b"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, v.Score)
	assert.True(t, v.IsValid)
	assert.True(t, v.Graded)

	v, err = s.Grade(context.Background(), q, &model.AttemptAnswer{SelectedOption: "a"})
	require.NoError(t, err)
	assert.Zero(t, v.Score)
	assert.False(t, v.IsValid)
	assert.True(t, v.Graded)

	// 选项键大小写敏感
	v, err = s.Grade(context.Background(), q, &model.AttemptAnswer{SelectedOption: "B"})
	require.NoError(t, err)
	assert.Zero(t, v.Score)
}

func TestGradeAudioPerfect(t *testing.T) {
	tr := &fakeTranscriber{transcript: "practice makes perfect"}
	s := newTestScoring(tr)
	q := &model.Question{
		QuestionType:       model.QuestionAudioSpeaking,
		ExpectedTranscript: "Practice makes perfect.",
	}
	answer := &model.AttemptAnswer{RecordingURL: "/uploads/r.webm"}

	v, err := s.Grade(context.Background(), q, answer)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v.Score)
	assert.True(t, v.IsValid)
	assert.True(t, v.Graded)
	require.NotNil(t, v.Metrics)
	// 转写文本写回答案，由调用方决定落库
	assert.Equal(t, "practice makes perfect", answer.Transcript)
	assert.Equal(t, 1, tr.calls)
}

func TestGradeAudioPartialBelowTolerance(t *testing.T) {
	tr := &fakeTranscriber{transcript: "quick brown fox jumped"}
	s := newTestScoring(tr)
	q := &model.Question{
		QuestionType:       model.QuestionAudioListening,
		ExpectedTranscript: "The quick brown fox jumps.",
	}

	v, err := s.Grade(context.Background(), q, &model.AttemptAnswer{RecordingURL: "/uploads/r.webm"})
	require.NoError(t, err)
	// 等权平均: (0.8 + 0.6 + 0.8 + 0.76) / 4 * 100 = 74
	assert.InDelta(t, 74.0, v.Score, 0.01)
	assert.False(t, v.IsValid)
	assert.True(t, v.Graded)
}

func TestGradeAudioEmptyTranscriptIsZero(t *testing.T) {
	// 空转写（学生未发声）是合法结果，得 0 分而非报错
	tr := &fakeTranscriber{transcript: ""}
	s := newTestScoring(tr)
	q := &model.Question{
		QuestionType:       model.QuestionAudioSpeaking,
		ExpectedTranscript: "hello world",
	}

	v, err := s.Grade(context.Background(), q, &model.AttemptAnswer{RecordingURL: "/uploads/r.webm"})
	require.NoError(t, err)
	assert.Zero(t, v.Score)
	assert.True(t, v.Graded)
	assert.Equal(t, []string{"hello", "world"}, v.Metrics.MissingWords)
}

func TestGradeAudioTranscriptionFailure(t *testing.T) {
	tr := &fakeTranscriber{err: util.ErrTranscriptionUnavailable}
	s := newTestScoring(tr)
	q := &model.Question{
		QuestionType:       model.QuestionAudioSpeaking,
		ExpectedTranscript: "hello",
	}

	v, err := s.Grade(context.Background(), q, &model.AttemptAnswer{RecordingURL: "/uploads/r.webm"})
	assert.ErrorIs(t, err, util.ErrTranscriptionUnavailable)
	assert.False(t, v.Graded)
}

func TestGradeAudioMissingExpected(t *testing.T) {
	s := newTestScoring(&fakeTranscriber{transcript: "whatever"})
	q := &model.Question{QuestionType: model.QuestionAudioSpeaking}

	_, err := s.Grade(context.Background(), q, &model.AttemptAnswer{})
	assert.ErrorIs(t, err, util.ErrEmptyExpected)
}

func TestAggregateVerdicts(t *testing.T) {
	s := newTestScoring(&fakeTranscriber{})

	result, err := s.AggregateVerdicts([]model.Verdict{
		{Score: 100, IsValid: true},
		{Score: 74, IsValid: false},
		{Score: 0, IsValid: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CorrectAnswers)
	assert.Equal(t, 3, result.TotalQuestions)
	// 低分题照常拉低平均，不得剔除
	assert.InDelta(t, 58.0, result.AverageScore, 1e-9)
}

func TestAggregateVerdictsEmpty(t *testing.T) {
	s := newTestScoring(&fakeTranscriber{})
	_, err := s.AggregateVerdicts(nil)
	assert.ErrorIs(t, err, util.ErrNoQuestions)
}
