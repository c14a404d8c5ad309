package service

import (
	"context"
	"fmt"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/util"
)

// ScoreWeights 四项度量合成综合分的权重。
// 原始系统只展示分项分数，合成公式不可考，这里固定为等权平均并对外文档化；
// 权重之和必须为 1。
type ScoreWeights struct {
	WordAccuracy   float64
	WordOrder      float64
	Vocabulary     float64
	CharSimilarity float64
}

// DefaultScoreWeights 等权平均
var DefaultScoreWeights = ScoreWeights{
	WordAccuracy:   0.25,
	WordOrder:      0.25,
	Vocabulary:     0.25,
	CharSimilarity: 0.25,
}

// ScoringService 单题判分引擎。无持久化副作用，落库由调用方负责。
type ScoringService struct {
	Transcriber Transcriber
	Weights     ScoreWeights
	// Tolerance 单题通过线（0-100），观测默认 80
	Tolerance float64
}

func NewScoringService(transcriber Transcriber, cfg *config.AssessmentConfig) *ScoringService {
	return &ScoringService{
		Transcriber: transcriber,
		Weights:     DefaultScoreWeights,
		Tolerance:   cfg.ScoreTolerance,
	}
}

// Grade 判定一题。
//   - mcq: 选项键大小写敏感精确匹配，得 0 或 100
//   - audio_*: 先转写再比对；转写失败返回 ErrTranscriptionUnavailable，
//     该题可单独重试，不影响其他题
//
// 音频题会把转写文本写回 answer.Transcript（仅内存，落库由调用方负责）。
func (s *ScoringService) Grade(ctx context.Context, question *model.Question, answer *model.AttemptAnswer) (*model.Verdict, error) {
	verdict := &model.Verdict{
		QuestionID: question.ID,
		Type:       question.QuestionType,
	}

	switch question.QuestionType {
	case model.QuestionMCQ:
		if answer.SelectedOption == question.CorrectOption {
			verdict.Score = 100
			verdict.IsValid = true
		}
		verdict.Graded = true
		return verdict, nil

	case model.QuestionAudioListening, model.QuestionAudioSpeaking:
		if question.ExpectedTranscript == "" {
			return nil, util.ErrEmptyExpected
		}

		transcript, err := s.Transcriber.Transcribe(ctx, answer.RecordingURL)
		if err != nil {
			return verdict, err
		}
		answer.Transcript = transcript

		metrics, err := CompareTranscripts(question.ExpectedTranscript, transcript)
		if err != nil {
			return nil, err
		}

		verdict.Score = s.CombineMetrics(metrics)
		verdict.IsValid = verdict.Score >= s.Tolerance
		verdict.Graded = true
		verdict.Metrics = metrics
		return verdict, nil

	default:
		return nil, fmt.Errorf("unknown question type: %s", question.QuestionType)
	}
}

// CombineMetrics 按固定权重合成 0-100 综合分
func (s *ScoringService) CombineMetrics(m *model.TranscriptMetrics) float64 {
	w := s.Weights
	return 100 * (w.WordAccuracy*m.WordAccuracy +
		w.WordOrder*m.WordOrderScore +
		w.Vocabulary*m.VocabularyCoverage +
		w.CharSimilarity*m.CharSimilarity)
}

// AggregateVerdicts 聚合整卷判定。平均分计入所有题目的得分，
// 低分题照常拉低平均，不得剔除。零题是配置错误。
func (s *ScoringService) AggregateVerdicts(verdicts []model.Verdict) (*model.AttemptResult, error) {
	if len(verdicts) == 0 {
		return nil, util.ErrNoQuestions
	}

	correct := 0
	total := 0.0
	for _, v := range verdicts {
		if v.IsValid {
			correct++
		}
		total += v.Score
	}

	return &model.AttemptResult{
		CorrectAnswers: correct,
		TotalQuestions: len(verdicts),
		AverageScore:   total / float64(len(verdicts)),
	}, nil
}
