package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/util"
	"lingua_edu_backend/pkg/logger"
	"lingua_edu_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// SessionService 持有进行中的作答：题序、答案、录音、违规计数。
// 每个 Attempt 同一时刻只属于一个学生的一个会话；提交后所有权移交存储，
// 内存中的录音会话状态被丢弃。
type SessionService struct {
	AttemptRepo *repository.AttemptRepository
	TestRepo    *repository.TestRepository
	Progression *ProgressionService
	Scoring     *ScoringService
	Storage     *StorageService

	// RecordingCeiling 听力题录音硬上限
	RecordingCeiling time.Duration
	// ViolationLimit 达到该次数自动交卷；0 表示仅警告
	ViolationLimit int

	mu        sync.Mutex
	recorders map[string]*recorderState
}

func NewSessionService(
	attemptRepo *repository.AttemptRepository,
	testRepo *repository.TestRepository,
	progression *ProgressionService,
	scoring *ScoringService,
	storage *StorageService,
	cfg *config.AssessmentConfig,
) *SessionService {
	return &SessionService{
		AttemptRepo:      attemptRepo,
		TestRepo:         testRepo,
		Progression:      progression,
		Scoring:          scoring,
		Storage:          storage,
		RecordingCeiling: time.Duration(cfg.ListeningRecordingLimitSeconds) * time.Second,
		ViolationLimit:   cfg.ViolationLimit,
		recorders:        make(map[string]*recorderState),
	}
}

// StartAttempt 开始或恢复一次作答。
// 层级被锁时返回 ErrAccessDenied（判定在服务端，客户端不可绕过）。
// 题序只在首次开始时打乱并固化；恢复时必须原样复用，绝不重新洗牌。
func (s *SessionService) StartAttempt(studentID, testID uint) (*model.Attempt, error) {
	test, err := s.TestRepo.FindByID(testID)
	if err != nil {
		return nil, util.ErrTestNotFound
	}
	if len(test.Questions) == 0 {
		logger.Log.Error("test has no questions", zap.Uint("testId", testID))
		return nil, util.ErrNoQuestions
	}

	allowed, err := s.Progression.CanAccessLevel(studentID, test.LevelID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, util.ErrAccessDenied
	}

	// 断线/刷新恢复：复用已固化的题序
	existing, err := s.AttemptRepo.FindInProgress(studentID, testID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ids := make([]uint, len(test.Questions))
	for i, q := range test.Questions {
		ids[i] = q.ID
	}
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	order, _ := json.Marshal(ids)

	attempt := &model.Attempt{
		TestID:        testID,
		StudentID:     studentID,
		Status:        model.AttemptInProgress,
		QuestionOrder: order,
		StartedAt:     time.Now(),
	}
	if err := s.AttemptRepo.Create(attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// OrderedQuestions 按作答固化的题序返回题目
func (s *SessionService) OrderedQuestions(attempt *model.Attempt) ([]model.Question, error) {
	test, err := s.TestRepo.FindByID(attempt.TestID)
	if err != nil {
		return nil, err
	}
	var ids []uint
	if err := json.Unmarshal(attempt.QuestionOrder, &ids); err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Question, len(test.Questions))
	for _, q := range test.Questions {
		byID[q.ID] = q
	}
	ordered := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered, nil
}

func (s *SessionService) loadOwnedAttempt(studentID, attemptID uint) (*model.Attempt, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, util.ErrAttemptNotFound
	}
	if attempt.StudentID != studentID {
		return nil, util.ErrAttemptNotOwned
	}
	return attempt, nil
}

func (s *SessionService) questionInAttempt(attempt *model.Attempt, questionID uint) (*model.Question, error) {
	var ids []uint
	if err := json.Unmarshal(attempt.QuestionOrder, &ids); err != nil {
		return nil, err
	}
	found := false
	for _, id := range ids {
		if id == questionID {
			found = true
			break
		}
	}
	if !found {
		return nil, util.ErrQuestionNotInTest
	}
	return s.TestRepo.FindQuestionByID(questionID)
}

// RecordAnswer 记录选择题作答，重复作答覆盖（last write wins）。仅 in_progress 可用。
func (s *SessionService) RecordAnswer(studentID, attemptID, questionID uint, selectedOption string) error {
	attempt, err := s.loadOwnedAttempt(studentID, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != model.AttemptInProgress {
		return util.ErrAlreadySubmitted
	}
	if _, err := s.questionInAttempt(attempt, questionID); err != nil {
		return err
	}
	return s.AttemptRepo.UpsertAnswer(&model.AttemptAnswer{
		AttemptID:      attemptID,
		QuestionID:     questionID,
		SelectedOption: selectedOption,
	})
}

// recorderState 单个 (attempt, question) 的进行中录音。
// 超时强停与用户主动停止互斥：先到者生效，后到者为 no-op。
type recorderState struct {
	mu        sync.Mutex
	startedAt time.Time
	timer     *time.Timer
	stopped   bool
	elapsed   time.Duration
	forced    bool
}

func recorderKey(attemptID, questionID uint) string {
	return fmt.Sprintf("%d:%d", attemptID, questionID)
}

// StartRecording 开始录音计时。听力题挂一个硬上限定时器，
// 到点即强停，已录部分保留为答案。
func (s *SessionService) StartRecording(studentID, attemptID, questionID uint) error {
	attempt, err := s.loadOwnedAttempt(studentID, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != model.AttemptInProgress {
		return util.ErrAlreadySubmitted
	}
	question, err := s.questionInAttempt(attempt, questionID)
	if err != nil {
		return err
	}
	if !question.QuestionType.IsAudio() {
		return util.ErrNotAudioQuestion
	}

	rec := &recorderState{startedAt: time.Now()}
	if question.QuestionType == model.QuestionAudioListening {
		rec.timer = time.AfterFunc(s.RecordingCeiling, func() {
			s.forceStopRecording(attemptID, questionID)
		})
	}

	s.mu.Lock()
	// 同一题重复开始：丢弃旧会话的计时器
	if old, ok := s.recorders[recorderKey(attemptID, questionID)]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.recorders[recorderKey(attemptID, questionID)] = rec
	s.mu.Unlock()
	return nil
}

// forceStopRecording 超时路径。显式 Stop 已经先到时是 no-op。
func (s *SessionService) forceStopRecording(attemptID, questionID uint) {
	s.mu.Lock()
	rec, ok := s.recorders[recorderKey(attemptID, questionID)]
	s.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stopped {
		return
	}
	rec.stopped = true
	rec.forced = true
	rec.elapsed = s.RecordingCeiling

	logger.Log.Info("recording force-stopped at ceiling",
		zap.Uint("attemptId", attemptID),
		zap.Uint("questionId", questionID),
		zap.Duration("ceiling", s.RecordingCeiling))
}

// StopRecording 用户主动停止。若超时强停已先发生则为 no-op，
// 返回已固化的时长与 forced=true。
func (s *SessionService) StopRecording(studentID, attemptID, questionID uint) (seconds float64, forced bool, err error) {
	if _, err := s.loadOwnedAttempt(studentID, attemptID); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	rec, ok := s.recorders[recorderKey(attemptID, questionID)]
	s.mu.Unlock()
	if !ok {
		return 0, false, util.ErrRecordingNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.stopped {
		rec.stopped = true
		rec.elapsed = time.Since(rec.startedAt)
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	return rec.elapsed.Seconds(), rec.forced, nil
}

// SaveRecording 接收上传的录音文件并作为该题答案。
// 听力题超过硬上限的上传会被截断到上限后保留（截断的部分就是答案），不报错。
func (s *SessionService) SaveRecording(ctx context.Context, studentID, attemptID, questionID uint, localPath, ext string) (*model.AttemptAnswer, error) {
	attempt, err := s.loadOwnedAttempt(studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptInProgress {
		return nil, util.ErrAlreadySubmitted
	}
	question, err := s.questionInAttempt(attempt, questionID)
	if err != nil {
		return nil, err
	}
	if !question.QuestionType.IsAudio() {
		return nil, util.ErrNotAudioQuestion
	}

	duration := 0.0
	if info, err := util.GetAudioInfo(localPath); err == nil {
		duration = info.Duration
	} else {
		logger.Log.Warn("failed to probe recording duration", zap.Error(err))
	}

	ceiling := s.RecordingCeiling.Seconds()
	if question.QuestionType == model.QuestionAudioListening && duration > ceiling {
		trimmed := localPath + ".trimmed" + ext
		if err := util.TrimAudio(localPath, trimmed, ceiling); err != nil {
			return nil, err
		}
		localPath = trimmed
		duration = ceiling
	}

	objectName := fmt.Sprintf("recordings/%d/%d/%s%s", attemptID, questionID, model.GenerateUUID(), ext)
	url, err := s.Storage.UploadFile(ctx, objectName, localPath, util.MimeAudio+ext[1:])
	if err != nil {
		return nil, err
	}

	answer := &model.AttemptAnswer{
		AttemptID:        attemptID,
		QuestionID:       questionID,
		RecordingURL:     url,
		RecordingSeconds: duration,
	}
	if err := s.AttemptRepo.UpsertAnswer(answer); err != nil {
		return nil, err
	}

	// 录音会话用完即清
	s.mu.Lock()
	delete(s.recorders, recorderKey(attemptID, questionID))
	s.mu.Unlock()

	return answer, nil
}

// RegisterViolation 记录一次失焦等违规行为，返回累计次数。
// 是否自动交卷由 ViolationLimit 配置决定（默认仅警告）。
func (s *SessionService) RegisterViolation(ctx context.Context, studentID, attemptID uint) (count int, autoSubmitted bool, err error) {
	attempt, err := s.loadOwnedAttempt(studentID, attemptID)
	if err != nil {
		return 0, false, err
	}
	if attempt.Status != model.AttemptInProgress {
		return attempt.ViolationCount, false, nil
	}

	count, err = s.AttemptRepo.IncrementViolations(attemptID)
	if err != nil {
		return 0, false, err
	}
	logger.Log.Warn("integrity violation recorded",
		zap.Uint("attemptId", attemptID),
		zap.Int("count", count))

	if s.ViolationLimit > 0 && count >= s.ViolationLimit {
		if _, _, err := s.Submit(ctx, studentID, attemptID); err != nil {
			// 未答完时交不了卷，违规计数照常保留
			logger.Log.Warn("auto-submit on violation limit failed", zap.Error(err))
			return count, false, nil
		}
		return count, true, nil
	}
	return count, false, nil
}

// Submit 交卷。流程：完整性检查 → 状态 CAS（单写者）→ 逐题判分 →
// 聚合落库 → 通知解锁状态机。
// 个别题转写失败时整卷退回 in_progress，失败题号随错误返回，
// 其余答案原样保留等待重试，绝不回滚整个会话。
func (s *SessionService) Submit(ctx context.Context, studentID, attemptID uint) (*model.AttemptResult, []uint, error) {
	attempt, err := s.loadOwnedAttempt(studentID, attemptID)
	if err != nil {
		return nil, nil, err
	}

	questions, err := s.OrderedQuestions(attempt)
	if err != nil {
		return nil, nil, err
	}
	if len(questions) == 0 {
		return nil, nil, util.ErrNoQuestions
	}

	answers, err := s.AttemptRepo.GetAnswers(attemptID)
	if err != nil {
		return nil, nil, err
	}
	answerByQuestion := make(map[uint]*model.AttemptAnswer, len(answers))
	for i := range answers {
		answerByQuestion[answers[i].QuestionID] = &answers[i]
	}

	// 完整性：每题必须有作答（mcq 有选项，音频题有录音）
	for _, q := range questions {
		a, ok := answerByQuestion[q.ID]
		if !ok {
			return nil, nil, util.ErrIncompleteAttempt
		}
		if q.QuestionType == model.QuestionMCQ && a.SelectedOption == "" {
			return nil, nil, util.ErrIncompleteAttempt
		}
		if q.QuestionType.IsAudio() && a.RecordingURL == "" {
			return nil, nil, util.ErrIncompleteAttempt
		}
	}

	// 状态 CAS：两个并发提交只有一个能赢，输家拿到 AlreadySubmitted
	now := time.Now()
	won, err := s.AttemptRepo.MarkSubmitted(attemptID, now)
	if err != nil {
		return nil, nil, err
	}
	if !won {
		return nil, nil, util.ErrAlreadySubmitted
	}

	verdicts := make([]model.Verdict, 0, len(questions))
	var failed []uint
	for i := range questions {
		q := questions[i]
		a := answerByQuestion[q.ID]
		verdict, err := s.Scoring.Grade(ctx, &q, a)
		if err != nil {
			// 转写失败只标记该题，继续判其余题目
			failed = append(failed, q.ID)
			monitoring.TranscriptionFailures.Inc()
			continue
		}
		verdicts = append(verdicts, *verdict)

		if q.QuestionType.IsAudio() {
			if err := s.AttemptRepo.SaveAnswer(a); err != nil {
				return nil, nil, err
			}
			if err := s.persistValidation(a.ID, verdict); err != nil {
				return nil, nil, err
			}
		}
	}

	if len(failed) > 0 {
		// 退回进行中，失败题单独重试，已判好的答案不丢
		if err := s.AttemptRepo.Reopen(attemptID); err != nil {
			return nil, nil, err
		}
		return nil, failed, util.ErrTranscriptionUnavailable
	}

	result, err := s.Scoring.AggregateVerdicts(verdicts)
	if err != nil {
		return nil, nil, err
	}

	test, err := s.TestRepo.FindByID(attempt.TestID)
	if err != nil {
		return nil, nil, err
	}
	result.AttemptID = attemptID
	result.StudentID = studentID
	result.LevelID = test.LevelID

	if err := s.Progression.ResultRepo.Create(result); err != nil {
		return nil, nil, err
	}
	monitoring.AttemptSubmissions.Inc()

	if err := s.Progression.ApplyResult(ctx, result); err != nil {
		// 解锁重算失败不吞掉已落库的成绩
		logger.Log.Error("failed to re-evaluate progression", zap.Error(err))
	}

	// 提交完成，丢弃该作答遗留的录音会话
	s.mu.Lock()
	for _, q := range questions {
		delete(s.recorders, recorderKey(attemptID, q.ID))
	}
	s.mu.Unlock()

	return result, nil, nil
}

func (s *SessionService) persistValidation(answerID uint, verdict *model.Verdict) error {
	if verdict.Metrics == nil {
		return nil
	}
	m := verdict.Metrics
	missing, _ := json.Marshal(m.MissingWords)
	extra, _ := json.Marshal(m.ExtraWords)
	mispronounced, _ := json.Marshal(m.Mispronounced)
	return s.AttemptRepo.CreateValidation(&model.ValidationResult{
		AnswerID:           answerID,
		OverallScore:       verdict.Score,
		WordAccuracy:       m.WordAccuracy,
		WordOrderScore:     m.WordOrderScore,
		VocabularyCoverage: m.VocabularyCoverage,
		CharSimilarity:     m.CharSimilarity,
		MissingWords:       missing,
		ExtraWords:         extra,
		Mispronounced:      mispronounced,
	})
}

// GetValidation 查询某题最新一次校验结果
func (s *SessionService) GetValidation(studentID, attemptID, questionID uint) (*model.ValidationResult, error) {
	if _, err := s.loadOwnedAttempt(studentID, attemptID); err != nil {
		return nil, err
	}
	answer, err := s.AttemptRepo.FindAnswer(attemptID, questionID)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, util.ErrAttemptNotFound
	}
	return s.AttemptRepo.LatestValidation(answer.ID)
}
