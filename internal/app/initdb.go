package app

import (
	"fmt"
	"time"

	"github.com/talkincode/routerman/config"
	"github.com/talkincode/routerman/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func getDatabase(cfg config.DBConfig) *gorm.DB {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name, time.Local.String())
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		zap.S().Panicf("database connection failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
		sqlDB.SetMaxIdleConns(cfg.IdleConn)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db
}

// defaultSchedulers seeded on first start; operators tune intervals later.
var defaultSchedulers = []domain.NetScheduler{
	{Name: "telemetry sampling", TaskType: "telemetry_sample", Interval: 60, Status: "enabled", Remark: "system"},
	{Name: "latency check", TaskType: "latency_check", Interval: 300, Status: "enabled", Remark: "system"},
	{Name: "snmp model probe", TaskType: "snmp_model", Interval: 3600, Status: "disabled", Remark: "system"},
	{Name: "api probe", TaskType: "api_probe", Interval: 600, Status: "enabled", Remark: "system"},
}

func (a *Application) checkSchedulers() {
	for _, sched := range defaultSchedulers {
		var count int64
		a.gormDB.Model(&domain.NetScheduler{}).
			Where("task_type = ?", sched.TaskType).
			Count(&count)
		if count == 0 {
			if err := a.gormDB.Create(&sched).Error; err != nil {
				zap.L().Error("failed to seed scheduler",
					zap.String("task_type", sched.TaskType),
					zap.Error(err))
				continue
			}
			zap.L().Info("initialized scheduler", zap.String("task_type", sched.TaskType))
		}
	}
}
