package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/routerman/config"
	"github.com/talkincode/routerman/internal/devices"
	"github.com/talkincode/routerman/internal/netquery"
	"github.com/talkincode/routerman/internal/telemetry"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// ManagerProvider provides the device connection manager
type ManagerProvider interface {
	Manager() *devices.Manager
}

// DeviceService is the contract the web layer consumes: run a named domain
// query against a device, or sample one metric.
type DeviceService interface {
	ActiveSessions(ctx context.Context, deviceID int64) ([]*netquery.ActiveSession, error)
	TerminateSession(ctx context.Context, deviceID int64, username string) error
	SFPDiagnostics(ctx context.Context, deviceID int64) ([]*netquery.SFPDiagnostic, error)
	SampleMetric(ctx context.Context, deviceID int64, t telemetry.MetricType) (*telemetry.Sample, error)
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	ManagerProvider
	DeviceService

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
	DropAll()
	// RunSchedulerNow triggers a scheduler execution immediately by ID
	RunSchedulerNow(id int64) error
}
