// 初始化演示数据脚本
//
// 建表后写入一名管理员、顺序门控的听力/口语模块和一个永久开放的
// 练习类目，每个层级挂一份带三种题型的测试。已有数据时跳过。
//
// 用法: go run scripts/seed.go
package main

import (
	"encoding/json"
	"log"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/pkg/database"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	var count int64
	db.Model(&model.SkillModule{}).Count(&count)
	if count > 0 {
		log.Println("已存在模块数据，跳过初始化")
		return
	}

	seedAdmin(db)
	seedModules(db)

	log.Println("演示数据初始化完成")
}

func seedAdmin(db *gorm.DB) {
	var count int64
	db.Model(&model.User{}).Where("role = ?", model.Admin).Count(&count)
	if count > 0 {
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte("admin12345"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("密码哈希失败: %v", err)
	}
	db.Create(&model.User{
		Name:     "管理员",
		Email:    "admin@lingua.edu",
		Password: string(hashed),
		Role:     model.Admin,
	})
	log.Println("已创建管理员账号 admin@lingua.edu")
}

func seedModules(db *gorm.DB) {
	listening := &model.SkillModule{Name: "听力理解", Category: model.CategorySequential, Position: 1}
	speaking := &model.SkillModule{Name: "口语表达", Category: model.CategorySequential, Position: 2}
	practice := &model.SkillModule{Name: "自由练习", Category: model.CategoryAlwaysOpen, Position: 3}
	for _, m := range []*model.SkillModule{listening, speaking, practice} {
		if err := db.Create(m).Error; err != nil {
			log.Fatalf("创建模块失败: %v", err)
		}
	}

	options, _ := json.Marshal(map[string]string{
		"a": "The cat sleeps on the mat",
		"b": "The dog runs in the park",
		"c": "The bird sings in the tree",
	})

	for _, m := range []*model.SkillModule{listening, speaking} {
		for pos := 1; pos <= 3; pos++ {
			level := &model.Level{ModuleID: m.ID, Name: levelName(pos), Position: pos}
			if err := db.Create(level).Error; err != nil {
				log.Fatalf("创建层级失败: %v", err)
			}

			test := &model.Test{
				LevelID:  level.ID,
				Title:    m.Name + " · " + level.Name,
				TestType: model.TestPractice,
				Questions: []model.Question{
					{
						QuestionType:  model.QuestionMCQ,
						Prompt:        "听录音，选出你听到的句子",
						Options:       options,
						CorrectOption: "a",
						Position:      1,
					},
					{
						QuestionType:       model.QuestionAudioListening,
						AudioURL:           "/uploads/samples/fox.mp3",
						ExpectedTranscript: "The quick brown fox jumps over the lazy dog",
						Position:           2,
					},
					{
						QuestionType:       model.QuestionAudioSpeaking,
						Prompt:             "朗读下面的句子",
						ExpectedTranscript: "Practice makes perfect",
						Position:           3,
					},
				},
			}
			if err := db.Create(test).Error; err != nil {
				log.Fatalf("创建测试失败: %v", err)
			}
		}
	}

	// 练习类目只有一个层级
	level := &model.Level{ModuleID: practice.ID, Name: "日常练习", Position: 1}
	if err := db.Create(level).Error; err != nil {
		log.Fatalf("创建层级失败: %v", err)
	}
	test := &model.Test{
		LevelID:  level.ID,
		Title:    "自由口语练习",
		TestType: model.TestPractice,
		Questions: []model.Question{
			{
				QuestionType:       model.QuestionAudioSpeaking,
				Prompt:             "自由朗读",
				ExpectedTranscript: "Every day is a new beginning",
				Position:           1,
			},
		},
	}
	if err := db.Create(test).Error; err != nil {
		log.Fatalf("创建测试失败: %v", err)
	}
}

func levelName(pos int) string {
	switch pos {
	case 1:
		return "入门"
	case 2:
		return "进阶"
	default:
		return "挑战"
	}
}
