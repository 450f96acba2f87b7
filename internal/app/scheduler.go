package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/telemetry"
	"go.uber.org/zap"
)

// SchedulerService runs enabled schedulers periodically
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulers(ctx)
			}
		}
	}()
}

// runSchedulers executes enabled schedulers
func (a *Application) runSchedulers(ctx context.Context) {
	var schedulers []domain.NetScheduler
	a.gormDB.Where("status = ?", "enabled").Find(&schedulers)
	now := time.Now()
	for _, sched := range schedulers {
		// Only run if now >= next_run_at
		if sched.NextRunAt.IsZero() || now.After(sched.NextRunAt) || now.Equal(sched.NextRunAt) {
			result, message := a.runSchedulerTask(ctx, &sched)
			a.gormDB.Model(&domain.NetScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
				"last_run_at":  now,
				"next_run_at":  now.Add(time.Duration(sched.Interval) * time.Second),
				"last_result":  result,
				"last_message": message,
			})
		}
	}
}

func (a *Application) runSchedulerTask(ctx context.Context, sched *domain.NetScheduler) (result, message string) {
	defer func() {
		if err := recover(); err != nil {
			result, message = "failed", fmt.Sprint(err)
			zap.S().Error(err)
		}
	}()

	switch sched.TaskType {
	case "telemetry_sample":
		return a.runTelemetryScheduler(ctx)
	case "latency_check":
		return a.runLatencyCheckScheduler()
	case "snmp_model":
		return a.runSnmpModelScheduler(ctx)
	case "api_probe":
		return a.runApiProbeScheduler(ctx)
	default:
		return "failed", fmt.Sprintf("unsupported task type %s", sched.TaskType)
	}
}

// RunSchedulerNow triggers a scheduler execution immediately by ID
func (a *Application) RunSchedulerNow(id int64) error {
	var sched domain.NetScheduler
	if err := a.gormDB.First(&sched, id).Error; err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	result, message := a.runSchedulerTask(ctx, &sched)

	now := time.Now()
	a.gormDB.Model(&domain.NetScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at":  now,
		"next_run_at":  now.Add(time.Duration(sched.Interval) * time.Second),
		"last_result":  result,
		"last_message": message,
	})
	return nil
}

// runTelemetryScheduler samples every configured metric on enabled devices.
// The sampler throttles persistence, so a short scheduler interval only
// refreshes the live reading.
func (a *Application) runTelemetryScheduler(ctx context.Context) (string, string) {
	var devs []domain.NetDevice
	a.gormDB.Where("status = ? AND api_state = ?", "enabled", "enabled").Find(&devs)

	failed := 0
	for _, dev := range devs {
		for _, name := range a.appConfig.Telemetry.Metrics {
			if _, err := a.sampler.Sample(ctx, dev.ID, telemetry.MetricType(name)); err != nil {
				failed++
				zap.L().Warn("telemetry sample failed",
					zap.Int64("device_id", dev.ID),
					zap.String("metric_type", name),
					zap.Error(err),
				)
			}
		}
	}
	if failed > 0 {
		return "failed", fmt.Sprintf("%d samples failed", failed)
	}
	return "success", fmt.Sprintf("sampled %d devices", len(devs))
}

// runLatencyCheckScheduler pings all enabled devices and updates latency
func (a *Application) runLatencyCheckScheduler() (string, string) {
	var devs []domain.NetDevice
	a.gormDB.Where("status = ?", "enabled").Find(&devs)

	// Parallelize pings with a semaphore to limit concurrent goroutines
	const maxWorkers = 50
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, dev := range devs {
		wg.Add(1)
		sem <- struct{}{}
		go func(d domain.NetDevice) {
			defer wg.Done()
			defer func() { <-sem }()

			latency := a.manager.Ping(&d)
			if err := a.gormDB.Model(&domain.NetDevice{}).Where("id = ?", d.ID).Update("latency", latency).Error; err != nil {
				zap.L().Error("failed to update device latency", zap.String("ip", d.Ipaddr), zap.Error(err))
			}
		}(dev)
	}
	wg.Wait()
	return "success", fmt.Sprintf("pinged %d devices", len(devs))
}

func (a *Application) runSnmpModelScheduler(ctx context.Context) (string, string) {
	var devs []domain.NetDevice
	a.gormDB.Where("status = ? AND snmp_state = ?", "enabled", "enabled").Find(&devs)
	for _, dev := range devs {
		if err := a.manager.ProbeSNMP(ctx, dev.ID); err != nil {
			zap.L().Warn("snmp probe failed", zap.Int64("device_id", dev.ID), zap.Error(err))
		}
	}
	return "success", fmt.Sprintf("probed %d devices", len(devs))
}

func (a *Application) runApiProbeScheduler(ctx context.Context) (string, string) {
	var devs []domain.NetDevice
	a.gormDB.Where("status = ? AND api_state = ?", "enabled", "enabled").Find(&devs)
	for _, dev := range devs {
		if err := a.manager.ProbeAPI(ctx, dev.ID); err != nil {
			zap.L().Warn("api probe failed", zap.Int64("device_id", dev.ID), zap.Error(err))
		}
	}
	return "success", fmt.Sprintf("probed %d devices", len(devs))
}
