package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"waris-go/internal/model"
	"waris-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL connects to MySQL and migrates the knowledge document registry.
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := DB.AutoMigrate(&model.KnowledgeDocument{}); err != nil {
		log.Fatal("failed to migrate knowledge_document table", err)
	}

	log.Info("MySQL database connected successfully")
}
