package service

import (
	"path/filepath"
	"testing"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func testAssessmentConfig() *config.AssessmentConfig {
	return &config.AssessmentConfig{
		MasteryThreshold:               60,
		ScoreTolerance:                 80,
		ListeningRecordingLimitSeconds: 10,
		ViolationLimit:                 0,
	}
}

// fixture 两个顺序门控模块（各两层）加一个永久开放类目
type fixture struct {
	db      *gorm.DB
	student *model.User

	listening *model.SkillModule
	speaking  *model.SkillModule
	practice  *model.SkillModule

	// listening 模块的两层与各自的测试
	level1, level2   *model.Level
	test1, test2     *model.Test
	speak1           *model.Level
	practiceLevel    *model.Level
	moduleRepo       *repository.ModuleRepository
	testRepo         *repository.TestRepository
	attemptRepo      *repository.AttemptRepository
	resultRepo       *repository.ResultRepository
	grantRepo        *repository.AccessGrantRepository
	progression      *ProgressionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)

	f := &fixture{
		db:          db,
		moduleRepo:  repository.NewModuleRepository(db),
		testRepo:    repository.NewTestRepository(db),
		attemptRepo: repository.NewAttemptRepository(db),
		resultRepo:  repository.NewResultRepository(db),
		grantRepo:   repository.NewAccessGrantRepository(db),
	}
	f.progression = NewProgressionService(f.moduleRepo, f.grantRepo, f.resultRepo, nil, testAssessmentConfig())

	f.student = &model.User{Name: "学生", Email: "student@test.local", Password: "x", Role: model.Student}
	require.NoError(t, db.Create(f.student).Error)

	f.listening = &model.SkillModule{Name: "听力理解", Category: model.CategorySequential, Position: 1}
	f.speaking = &model.SkillModule{Name: "口语表达", Category: model.CategorySequential, Position: 2}
	f.practice = &model.SkillModule{Name: "自由练习", Category: model.CategoryAlwaysOpen, Position: 3}
	for _, m := range []*model.SkillModule{f.listening, f.speaking, f.practice} {
		require.NoError(t, f.moduleRepo.Create(m))
	}

	f.level1 = &model.Level{ModuleID: f.listening.ID, Name: "入门", Position: 1}
	f.level2 = &model.Level{ModuleID: f.listening.ID, Name: "进阶", Position: 2}
	f.speak1 = &model.Level{ModuleID: f.speaking.ID, Name: "入门", Position: 1}
	f.practiceLevel = &model.Level{ModuleID: f.practice.ID, Name: "日常", Position: 1}
	for _, l := range []*model.Level{f.level1, f.level2, f.speak1, f.practiceLevel} {
		require.NoError(t, f.moduleRepo.CreateLevel(l))
	}

	f.test1 = newMCQTest(t, f.testRepo, f.level1.ID)
	f.test2 = newMCQTest(t, f.testRepo, f.level2.ID)

	return f
}

// newMCQTest 两道选择题的测试，正确答案都是 a
func newMCQTest(t *testing.T, repo *repository.TestRepository, levelID uint) *model.Test {
	t.Helper()
	test := &model.Test{
		LevelID:  levelID,
		Title:    "测试",
		TestType: model.TestPractice,
		Questions: []model.Question{
			{QuestionType: model.QuestionMCQ, Prompt: "q1", CorrectOption: "a", Position: 1},
			{QuestionType: model.QuestionMCQ, Prompt: "q2", CorrectOption: "a", Position: 2},
		},
	}
	require.NoError(t, repo.Create(test))
	return test
}

// addResult 为学生在某层级落一条成绩
func (f *fixture) addResult(t *testing.T, levelID uint, score float64) *model.AttemptResult {
	t.Helper()
	result := &model.AttemptResult{
		AttemptID:      0,
		StudentID:      f.student.ID,
		LevelID:        levelID,
		CorrectAnswers: 1,
		TotalQuestions: 1,
		AverageScore:   score,
	}
	require.NoError(t, f.resultRepo.Create(result))
	return result
}
