package database

import (
	"fmt"
	"log"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	return db, nil
}

// AutoMigrate 建表。测试环境用 sqlite 时也走这份模型清单。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.SkillModule{},
		&model.Level{},
		&model.Test{},
		&model.Question{},
		&model.Attempt{},
		&model.AttemptAnswer{},
		&model.ValidationResult{},
		&model.AttemptResult{},
		&model.AccessGrant{},
	)
}
