package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/routerman/config"
	"github.com/talkincode/routerman/internal/devices"
	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/netquery"
	"github.com/talkincode/routerman/internal/telemetry"
	"github.com/talkincode/routerman/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	bus       EventBus.Bus
	manager   *devices.Manager
	sampler   *telemetry.Sampler
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ DeviceService     = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Manager() *devices.Manager {
	return a.manager
}

func (a *Application) Sampler() *telemetry.Sampler {
	return a.sampler
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before loading data
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	go func() {
		time.Sleep(3 * time.Second)
		a.checkSchedulers()
	}()

	// Device connection manager and telemetry engine
	a.bus = EventBus.New()
	a.manager = devices.NewManager(devices.NewGormDeviceRepository(a.gormDB), a.bus, devices.Options{
		ConnectTimeout: time.Duration(cfg.Device.ConnectTimeout) * time.Second,
		BackoffMax:     time.Duration(cfg.Device.BackoffMax) * time.Second,
		MaxAttempts:    cfg.Device.MaxRetries,
	})
	a.subscribeDeviceEvents()

	poller := telemetry.NewDevicePoller(a.manager, a.queryOptions())
	a.sampler = telemetry.NewSampler(
		telemetry.NewGormStore(a.gormDB),
		poller.Poll,
		a.retentionPolicies(),
	)

	a.initJob()
}

func (a *Application) queryOptions() netquery.Options {
	return netquery.Options{
		ProbeConcurrency: a.appConfig.Device.ProbeConcurrency,
		ProbeTimeout:     time.Duration(a.appConfig.Device.CommandTimeout) * time.Second,
	}
}

func (a *Application) retentionPolicies() map[telemetry.MetricType]telemetry.RetentionPolicy {
	policy := telemetry.RetentionPolicy{
		SampleInterval: a.appConfig.Telemetry.SampleIntervalDuration(),
		MaxAge:         a.appConfig.Telemetry.MaxAge(),
	}
	policies := make(map[telemetry.MetricType]telemetry.RetentionPolicy)
	for _, name := range a.appConfig.Telemetry.Metrics {
		policies[telemetry.MetricType(name)] = policy
	}
	return policies
}

// subscribeDeviceEvents tracks connection state changes on the device rows.
func (a *Application) subscribeDeviceEvents() {
	_ = a.bus.Subscribe(devices.EventDeviceDown, func(deviceID int64) {
		metrics.SetGauge("device_api_up", 0)
		a.gormDB.Model(&domain.NetDevice{}).Where("id = ?", deviceID).Updates(map[string]interface{}{
			"api_last_result":  "failed",
			"api_last_message": "connection lost",
		})
		zap.L().Warn("device connection lost", zap.Int64("device_id", deviceID))
	})
	_ = a.bus.Subscribe(devices.EventDeviceUp, func(deviceID int64) {
		metrics.SetGauge("device_api_up", 1)
		zap.L().Info("device connection established", zap.Int64("device_id", deviceID))
	})
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// Start scheduler job runner
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.StartSchedulerService(ctx)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}

	if a.manager != nil {
		a.manager.Close()
	}

	_ = metrics.Close()
	_ = zap.L().Sync()
}
