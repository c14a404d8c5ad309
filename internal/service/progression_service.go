package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/pkg/logger"
	"lingua_edu_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AccessChangedChannel 解锁状态变更事件的 Redis 频道。
// 前端等观察方订阅该频道刷新展示，本服务端判定不依赖它。
const AccessChangedChannel = "assessment:access_changed"

// 层级解锁判定的短时缓存。状态变更时整学生失效，
// TTL 兜底阈值热更新后的残留。
const accessCacheTTL = time.Minute

func accessCacheKey(studentID uint) string {
	return fmt.Sprintf("assessment:access:%d", studentID)
}

// AccessChangedEvent 某学生在某模块下的解锁状态发生了变化
type AccessChangedEvent struct {
	StudentID uint `json:"studentId"`
	ModuleID  uint `json:"moduleId"`
}

// ProgressionService 解锁状态机：根据已落库成绩与管理员覆盖，
// 计算学生可进入哪些模块/层级。判定在服务端完成，前端仅做展示，
// 不可被客户端绕过。
type ProgressionService struct {
	ModuleRepo *repository.ModuleRepository
	GrantRepo  *repository.AccessGrantRepository
	ResultRepo *repository.ResultRepository
	Redis      *redis.Client // 可为 nil（测试环境），仅影响事件广播与判定缓存
	// MasteryThreshold 解锁下一关所需最低平均分，观测默认 60
	MasteryThreshold float64
}

func NewProgressionService(
	moduleRepo *repository.ModuleRepository,
	grantRepo *repository.AccessGrantRepository,
	resultRepo *repository.ResultRepository,
	rdb *redis.Client,
	cfg *config.AssessmentConfig,
) *ProgressionService {
	return &ProgressionService{
		ModuleRepo:       moduleRepo,
		GrantRepo:        grantRepo,
		ResultRepo:       resultRepo,
		Redis:            rdb,
		MasteryThreshold: cfg.MasteryThreshold,
	}
}

// CanAccessModule 判定学生能否进入模块
func (s *ProgressionService) CanAccessModule(studentID uint, module *model.SkillModule) (bool, error) {
	// 永久开放类目不参与门控
	if module.Category == model.CategoryAlwaysOpen {
		return true, nil
	}

	grant, err := s.GrantRepo.FindForModule(studentID, module.ID)
	if err != nil {
		return false, err
	}
	if grant != nil && grant.Source == model.GrantAdminOverride {
		return grant.Unlocked, nil
	}
	if grant != nil && grant.Unlocked {
		return true, nil
	}

	prev, err := s.ModuleRepo.FindPredecessorModule(module)
	if err != nil {
		return false, err
	}
	if prev == nil {
		// 门控序列的第一个模块天然解锁
		return true, nil
	}

	// 前驱模块末层达标则本模块解锁
	lastLevel, err := s.ModuleRepo.FindLastLevel(prev.ID)
	if err != nil {
		return false, err
	}
	if lastLevel == nil {
		return false, nil
	}
	return s.levelMastered(studentID, lastLevel.ID)
}

// CanAccessLevel 判定学生能否进入层级。会话控制器在开卷前必须调用。
// 判定基于最新已提交成绩（读取 MAX(average_score)），并发提交取最大值收敛。
func (s *ProgressionService) CanAccessLevel(studentID, levelID uint) (bool, error) {
	if cached, ok := s.cachedLevelAccess(studentID, levelID); ok {
		return cached, nil
	}
	unlocked, err := s.resolveLevelAccess(studentID, levelID)
	if err != nil {
		return false, err
	}
	s.cacheLevelAccess(studentID, levelID, unlocked)
	return unlocked, nil
}

func (s *ProgressionService) resolveLevelAccess(studentID, levelID uint) (bool, error) {
	level, err := s.ModuleRepo.FindLevelByID(levelID)
	if err != nil {
		return false, err
	}
	module, err := s.ModuleRepo.FindByID(level.ModuleID)
	if err != nil {
		return false, err
	}

	if module.Category == model.CategoryAlwaysOpen {
		return true, nil
	}

	moduleOK, err := s.CanAccessModule(studentID, module)
	if err != nil {
		return false, err
	}
	if !moduleOK {
		return false, nil
	}

	grant, err := s.GrantRepo.FindForLevel(studentID, levelID)
	if err != nil {
		return false, err
	}
	if grant != nil && grant.Source == model.GrantAdminOverride {
		return grant.Unlocked, nil
	}
	if grant != nil && grant.Unlocked {
		return true, nil
	}

	// 模块首层天然解锁
	if level.Position <= 1 {
		return true, nil
	}

	prev, err := s.ModuleRepo.FindPredecessorLevel(level)
	if err != nil {
		return false, err
	}
	if prev == nil {
		// 非首层却没有前驱：层级位置断档属于配置错误，锁死而不是放行
		logger.Log.Error("level position gap, failing closed",
			zap.Uint("levelId", level.ID),
			zap.Uint("moduleId", level.ModuleID),
			zap.Int("position", level.Position))
		return false, nil
	}
	return s.levelMastered(studentID, prev.ID)
}

func (s *ProgressionService) levelMastered(studentID, levelID uint) (bool, error) {
	best, err := s.ResultRepo.BestAverageScore(studentID, levelID)
	if err != nil {
		return false, err
	}
	return best >= s.MasteryThreshold, nil
}

// ApplyResult 新成绩落库后重算解锁状态。达标则为后继层级/模块写入
// 自动解锁记录并广播 AccessChanged。自动重算绝不改写管理员覆盖。
func (s *ProgressionService) ApplyResult(ctx context.Context, result *model.AttemptResult) error {
	mastered, err := s.levelMastered(result.StudentID, result.LevelID)
	if err != nil {
		return err
	}
	if !mastered {
		return nil
	}

	level, err := s.ModuleRepo.FindLevelByID(result.LevelID)
	if err != nil {
		return err
	}

	next, err := s.ModuleRepo.FindNextLevel(level)
	if err != nil {
		return err
	}
	if next != nil {
		if err := s.GrantRepo.UpsertAutomatic(&model.AccessGrant{
			StudentID: result.StudentID,
			LevelID:   next.ID,
			Unlocked:  true,
		}); err != nil {
			return err
		}
		monitoring.AccessUnlocks.Inc()
		s.publishAccessChanged(ctx, result.StudentID, level.ModuleID)
		return nil
	}

	// 末层达标：解锁门控序列中的下一模块
	module, err := s.ModuleRepo.FindByID(level.ModuleID)
	if err != nil {
		return err
	}
	nextModule, err := s.ModuleRepo.FindNextModule(module)
	if err != nil {
		return err
	}
	if nextModule == nil {
		return nil
	}
	if err := s.GrantRepo.UpsertAutomatic(&model.AccessGrant{
		StudentID: result.StudentID,
		ModuleID:  nextModule.ID,
		Unlocked:  true,
	}); err != nil {
		return err
	}
	monitoring.AccessUnlocks.Inc()
	s.publishAccessChanged(ctx, result.StudentID, nextModule.ID)
	return nil
}

// AdminSetLevelAccess 管理员强制设置层级解锁状态，优先于自动重算
func (s *ProgressionService) AdminSetLevelAccess(ctx context.Context, studentID, levelID uint, unlocked bool) error {
	level, err := s.ModuleRepo.FindLevelByID(levelID)
	if err != nil {
		return err
	}
	if err := s.GrantRepo.UpsertOverride(&model.AccessGrant{
		StudentID: studentID,
		LevelID:   levelID,
		Unlocked:  unlocked,
	}); err != nil {
		return err
	}
	s.publishAccessChanged(ctx, studentID, level.ModuleID)
	return nil
}

// AdminSetModuleAccess 管理员强制设置模块解锁状态
func (s *ProgressionService) AdminSetModuleAccess(ctx context.Context, studentID, moduleID uint, unlocked bool) error {
	if _, err := s.ModuleRepo.FindByID(moduleID); err != nil {
		return err
	}
	if err := s.GrantRepo.UpsertOverride(&model.AccessGrant{
		StudentID: studentID,
		ModuleID:  moduleID,
		Unlocked:  unlocked,
	}); err != nil {
		return err
	}
	s.publishAccessChanged(ctx, studentID, moduleID)
	return nil
}

// LevelAccess / ModuleAccess 供展示层使用的解锁视图
type LevelAccess struct {
	Level    model.Level `json:"level"`
	Unlocked bool        `json:"unlocked"`
}

type ModuleAccess struct {
	Module   model.SkillModule `json:"module"`
	Unlocked bool              `json:"unlocked"`
	Levels   []LevelAccess     `json:"levels"`
}

// ListModules 返回全部模块/层级及该学生的解锁状态
func (s *ProgressionService) ListModules(studentID uint) ([]ModuleAccess, error) {
	modules, err := s.ModuleRepo.ListWithLevels()
	if err != nil {
		return nil, err
	}

	out := make([]ModuleAccess, 0, len(modules))
	for _, m := range modules {
		moduleOK, err := s.CanAccessModule(studentID, &m)
		if err != nil {
			return nil, err
		}
		ma := ModuleAccess{Module: m, Unlocked: moduleOK}
		for _, l := range m.Levels {
			levelOK := false
			if moduleOK {
				levelOK, err = s.CanAccessLevel(studentID, l.ID)
				if err != nil {
					return nil, err
				}
			}
			ma.Levels = append(ma.Levels, LevelAccess{Level: l, Unlocked: levelOK})
		}
		ma.Module.Levels = nil
		out = append(out, ma)
	}
	return out, nil
}

func (s *ProgressionService) cachedLevelAccess(studentID, levelID uint) (unlocked, hit bool) {
	if s.Redis == nil {
		return false, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := s.Redis.HGet(ctx, accessCacheKey(studentID), strconv.FormatUint(uint64(levelID), 10)).Result()
	if err != nil {
		return false, false
	}
	return v == "1", true
}

func (s *ProgressionService) cacheLevelAccess(studentID, levelID uint, unlocked bool) {
	if s.Redis == nil {
		return
	}
	v := "0"
	if unlocked {
		v = "1"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := accessCacheKey(studentID)
	pipe := s.Redis.Pipeline()
	pipe.HSet(ctx, key, strconv.FormatUint(uint64(levelID), 10), v)
	pipe.Expire(ctx, key, accessCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Debug("failed to cache level access", zap.Error(err))
	}
}

func (s *ProgressionService) publishAccessChanged(ctx context.Context, studentID, moduleID uint) {
	if s.Redis == nil {
		return
	}
	// 先让该学生的判定缓存失效，订阅方重新拉取时能读到新状态
	if err := s.Redis.Del(ctx, accessCacheKey(studentID)).Err(); err != nil {
		logger.Log.Warn("failed to invalidate access cache", zap.Error(err))
	}
	payload, _ := json.Marshal(AccessChangedEvent{StudentID: studentID, ModuleID: moduleID})
	if err := s.Redis.Publish(ctx, AccessChangedChannel, payload).Err(); err != nil {
		// 广播失败不影响解锁判定本身
		logger.Log.Warn("failed to publish access change",
			zap.Uint("studentId", studentID), zap.Error(err))
	}
}
