package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/util"
	"lingua_edu_backend/pkg/logger"

	"go.uber.org/zap"
)

// Transcriber 外部转写能力的抽象，判分引擎只依赖该接口
type Transcriber interface {
	// Transcribe 将录音转为文本。失败（含超时）返回 ErrTranscriptionUnavailable，
	// 调用方按单题可重试处理，不得中断整卷。
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// TranscriptionService 调用外部转写服务 POST audio -> {transcript}
type TranscriptionService struct {
	Config *config.TranscriptionConfig
	Client *http.Client
}

func NewTranscriptionService(cfg *config.TranscriptionConfig) *TranscriptionService {
	return &TranscriptionService{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

func (s *TranscriptionService) Transcribe(ctx context.Context, audioURL string) (string, error) {
	body, _ := json.Marshal(transcribeRequest{AudioURL: audioURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Config.BaseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrTranscriptionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.Config.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		logger.Log.Warn("transcription request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", util.ErrTranscriptionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Log.Warn("transcription service returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("audioUrl", audioURL))
		return "", fmt.Errorf("%w: status %d", util.ErrTranscriptionUnavailable, resp.StatusCode)
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrTranscriptionUnavailable, err)
	}

	// 空转写是合法结果（学生未发声），照常进入比对得 0 分
	return result.Transcript, nil
}
