package service

import (
	"context"
	"testing"
	"time"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, f *fixture, tr Transcriber) *SessionService {
	t.Helper()
	cfg := testAssessmentConfig()
	scoring := NewScoringService(tr, cfg)
	storage := &StorageService{Provider: &LocalStorageProvider{
		Config: &config.StorageConfig{LocalPath: t.TempDir()},
	}}
	return NewSessionService(f.attemptRepo, f.testRepo, f.progression, scoring, storage, cfg)
}

// newAudioTest 单道口语题的测试
func newAudioTest(t *testing.T, repo *repository.TestRepository, levelID uint, expected string) *model.Test {
	t.Helper()
	test := &model.Test{
		LevelID:  levelID,
		Title:    "口语测试",
		TestType: model.TestPractice,
		Questions: []model.Question{
			{QuestionType: model.QuestionAudioSpeaking, Prompt: "朗读", ExpectedTranscript: expected, Position: 1},
		},
	}
	require.NoError(t, repo.Create(test))
	return test
}

func answerAll(t *testing.T, f *fixture, s *SessionService, attemptID uint, test *model.Test, option string) {
	t.Helper()
	for _, q := range test.Questions {
		require.NoError(t, s.RecordAnswer(f.student.ID, attemptID, q.ID, option))
	}
}

func TestStartAttemptDeniedWhenLocked(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	_, err := s.StartAttempt(f.student.ID, f.test2.ID)
	assert.ErrorIs(t, err, util.ErrAccessDenied)
}

func TestStartAttemptShufflesOnceAndResumes(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, attempt.Status)
	require.NotEmpty(t, attempt.QuestionOrder)

	questions, err := s.OrderedQuestions(attempt)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	// 恢复作答：同一作答、题序逐字节一致
	resumed, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, resumed.ID)
	assert.Equal(t, string(attempt.QuestionOrder), string(resumed.QuestionOrder))
}

func TestStartAttemptEmptyTest(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	empty := &model.Test{LevelID: f.level1.ID, Title: "空测试", TestType: model.TestPractice}
	require.NoError(t, f.testRepo.Create(empty))

	_, err := s.StartAttempt(f.student.ID, empty.ID)
	assert.ErrorIs(t, err, util.ErrNoQuestions)
}

func TestRecordAnswerLastWriteWins(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	q := f.test1.Questions[0]

	require.NoError(t, s.RecordAnswer(f.student.ID, attempt.ID, q.ID, "b"))
	require.NoError(t, s.RecordAnswer(f.student.ID, attempt.ID, q.ID, "a"))

	answer, err := f.attemptRepo.FindAnswer(attempt.ID, q.ID)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, "a", answer.SelectedOption)

	// 每题只留一行
	answers, err := f.attemptRepo.GetAnswers(attempt.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1)
}

func TestRecordAnswerRejectsForeignQuestion(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	foreign := f.test2.Questions[0]
	err = s.RecordAnswer(f.student.ID, attempt.ID, foreign.ID, "a")
	assert.ErrorIs(t, err, util.ErrQuestionNotInTest)
}

func TestRecordAnswerOwnershipCheck(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	other := &model.User{Name: "别人", Email: "other@test.local", Password: "x", Role: model.Student}
	require.NoError(t, f.db.Create(other).Error)

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	err = s.RecordAnswer(other.ID, attempt.ID, f.test1.Questions[0].ID, "a")
	assert.ErrorIs(t, err, util.ErrAttemptNotOwned)
}

func TestSubmitIncomplete(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	require.NoError(t, s.RecordAnswer(f.student.ID, attempt.ID, f.test1.Questions[0].ID, "a"))

	_, _, err = s.Submit(context.Background(), f.student.ID, attempt.ID)
	assert.ErrorIs(t, err, util.ErrIncompleteAttempt)

	// 未通过完整性检查不应改变状态
	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, reloaded.Status)
}

func TestSubmitGradesAggregatesAndUnlocks(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	ctx := context.Background()

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	answerAll(t, f, s, attempt.ID, f.test1, "a")

	result, failed, err := s.Submit(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 2, result.CorrectAnswers)
	assert.Equal(t, 2, result.TotalQuestions)
	assert.Equal(t, 100.0, result.AverageScore)
	assert.Equal(t, f.level1.ID, result.LevelID)

	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSubmitted, reloaded.Status)
	assert.NotNil(t, reloaded.SubmittedAt)

	// 成绩落库且触发解锁
	persisted, err := f.resultRepo.FindByAttempt(attempt.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)

	ok, err := f.progression.CanAccessLevel(f.student.ID, f.level2.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmitTwiceReturnsConflict(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	ctx := context.Background()

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	answerAll(t, f, s, attempt.ID, f.test1, "a")

	first, _, err := s.Submit(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)

	_, _, err = s.Submit(ctx, f.student.ID, attempt.ID)
	assert.ErrorIs(t, err, util.ErrAlreadySubmitted)

	// 首次的成绩保持不变
	persisted, err := f.resultRepo.FindByAttempt(attempt.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, first.AverageScore, persisted.AverageScore)
}

func TestSubmitWrongAnswersKeepLocked(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	answerAll(t, f, s, attempt.ID, f.test1, "b")

	result, _, err := s.Submit(context.Background(), f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Zero(t, result.AverageScore)

	ok, err := f.progression.CanAccessLevel(f.student.ID, f.level2.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitTranscriptionFailureReopens(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTranscriber{err: util.ErrTranscriptionUnavailable}
	s := newTestSession(t, f, tr)
	ctx := context.Background()

	audioTest := newAudioTest(t, f.testRepo, f.level1.ID, "Practice makes perfect")
	attempt, err := s.StartAttempt(f.student.ID, audioTest.ID)
	require.NoError(t, err)

	q := audioTest.Questions[0]
	require.NoError(t, f.attemptRepo.UpsertAnswer(&model.AttemptAnswer{
		AttemptID:    attempt.ID,
		QuestionID:   q.ID,
		RecordingURL: "/uploads/r.webm",
	}))

	_, failed, err := s.Submit(ctx, f.student.ID, attempt.ID)
	assert.ErrorIs(t, err, util.ErrTranscriptionUnavailable)
	assert.Equal(t, []uint{q.ID}, failed)

	// 整卷退回进行中，答案保留，可重试
	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, reloaded.Status)
	answer, err := f.attemptRepo.FindAnswer(attempt.ID, q.ID)
	require.NoError(t, err)
	require.NotNil(t, answer)

	// 转写恢复后重交成功
	tr.err = nil
	tr.transcript = "practice makes perfect"
	result, failed, err := s.Submit(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 100.0, result.AverageScore)

	// 转写文本与校验结果都已落库
	answer, err = f.attemptRepo.FindAnswer(attempt.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "practice makes perfect", answer.Transcript)

	validation, err := s.GetValidation(f.student.ID, attempt.ID, q.ID)
	require.NoError(t, err)
	require.NotNil(t, validation)
	assert.Equal(t, 100.0, validation.OverallScore)
}

func TestRecorderCeilingForceStop(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	s.RecordingCeiling = 50 * time.Millisecond

	listenTest := &model.Test{
		LevelID:  f.level1.ID,
		Title:    "听力测试",
		TestType: model.TestPractice,
		Questions: []model.Question{
			{QuestionType: model.QuestionAudioListening, AudioURL: "/uploads/s.mp3", ExpectedTranscript: "hello", Position: 1},
		},
	}
	require.NoError(t, f.testRepo.Create(listenTest))

	attempt, err := s.StartAttempt(f.student.ID, listenTest.ID)
	require.NoError(t, err)
	q := listenTest.Questions[0]

	require.NoError(t, s.StartRecording(f.student.ID, attempt.ID, q.ID))
	time.Sleep(150 * time.Millisecond)

	seconds, forced, err := s.StopRecording(f.student.ID, attempt.ID, q.ID)
	require.NoError(t, err)
	assert.True(t, forced, "超时强停应先于用户停止生效")
	assert.Equal(t, s.RecordingCeiling.Seconds(), seconds)
}

func TestRecorderUserStopBeforeCeiling(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	listenTest := &model.Test{
		LevelID:  f.level1.ID,
		Title:    "听力测试",
		TestType: model.TestPractice,
		Questions: []model.Question{
			{QuestionType: model.QuestionAudioListening, AudioURL: "/uploads/s.mp3", ExpectedTranscript: "hello", Position: 1},
		},
	}
	require.NoError(t, f.testRepo.Create(listenTest))

	attempt, err := s.StartAttempt(f.student.ID, listenTest.ID)
	require.NoError(t, err)
	q := listenTest.Questions[0]

	require.NoError(t, s.StartRecording(f.student.ID, attempt.ID, q.ID))
	seconds, forced, err := s.StopRecording(f.student.ID, attempt.ID, q.ID)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Less(t, seconds, s.RecordingCeiling.Seconds())

	// 重复停止是 no-op，时长不变
	again, forced2, err := s.StopRecording(f.student.ID, attempt.ID, q.ID)
	require.NoError(t, err)
	assert.False(t, forced2)
	assert.Equal(t, seconds, again)
}

func TestStopRecordingWithoutStart(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	_, _, err = s.StopRecording(f.student.ID, attempt.ID, f.test1.Questions[0].ID)
	assert.ErrorIs(t, err, util.ErrRecordingNotFound)
}

func TestStartRecordingRejectsMCQ(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	err = s.StartRecording(f.student.ID, attempt.ID, f.test1.Questions[0].ID)
	assert.ErrorIs(t, err, util.ErrNotAudioQuestion)
}

func TestViolationWarnOnlyByDefault(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	ctx := context.Background()

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		count, autoSubmitted, err := s.RegisterViolation(ctx, f.student.ID, attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.False(t, autoSubmitted)
	}

	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, reloaded.Status)
	assert.Equal(t, 3, reloaded.ViolationCount)
}

func TestViolationAutoSubmitAtLimit(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	s.ViolationLimit = 2
	ctx := context.Background()

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)
	answerAll(t, f, s, attempt.ID, f.test1, "a")

	count, autoSubmitted, err := s.RegisterViolation(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, autoSubmitted)

	count, autoSubmitted, err = s.RegisterViolation(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, autoSubmitted)

	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSubmitted, reloaded.Status)
}

func TestViolationAutoSubmitBlockedByIncomplete(t *testing.T) {
	f := newFixture(t)
	s := newTestSession(t, f, &fakeTranscriber{})
	s.ViolationLimit = 1
	ctx := context.Background()

	attempt, err := s.StartAttempt(f.student.ID, f.test1.ID)
	require.NoError(t, err)

	// 未答完交不了卷：计数保留，状态不变
	count, autoSubmitted, err := s.RegisterViolation(ctx, f.student.ID, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, autoSubmitted)

	reloaded, err := f.attemptRepo.FindByID(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, reloaded.Status)
}
