package util

import "errors"

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrEmailRegistered = errors.New("该邮箱已被注册")

	// 解锁门控失败，拿到新成绩之前不可重试
	ErrAccessDenied = errors.New("level is locked for this student")
	// 有题目未作答，补齐后可重新提交
	ErrIncompleteAttempt = errors.New("attempt has unanswered questions")
	// 重复提交，幂等拒绝，不重新判分
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// 外部转写服务失败，单题可重试，不中断整卷
	ErrTranscriptionUnavailable = errors.New("transcription service unavailable")

	// 配置/编程类错误：记日志，不向学生透出细节
	ErrEmptyExpected = errors.New("expected transcript is empty")
	ErrNoQuestions   = errors.New("test has no questions")
	// 模块内层级位置必须连续且唯一，只能在队尾追加
	ErrLevelPositionGap = errors.New("level position must extend the module sequence by one")

	ErrModuleNotFound    = errors.New("module not found")
	ErrLevelNotFound     = errors.New("level not found")
	ErrTestNotFound      = errors.New("test not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptNotOwned   = errors.New("attempt does not belong to this student")
	ErrQuestionNotInTest = errors.New("question does not belong to this test")
	ErrRecordingNotFound = errors.New("no active recording for this question")
	ErrNotAudioQuestion  = errors.New("question does not take a recording")
)
