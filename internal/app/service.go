package app

import (
	"context"
	"time"

	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/netquery"
	"github.com/talkincode/routerman/internal/routeros"
	"github.com/talkincode/routerman/internal/telemetry"
	"go.uber.org/zap"
)

// The methods below are the only seams the web/CRUD layer touches:
// run a named domain query against a device, or sample one metric.

// ActiveSessions lists the device's PPP sessions with traffic counters.
func (a *Application) ActiveSessions(ctx context.Context, deviceID int64) ([]*netquery.ActiveSession, error) {
	var sessions []*netquery.ActiveSession
	err := a.manager.Execute(ctx, deviceID, func(c *routeros.Client) error {
		var err error
		sessions, err = netquery.NewTranslator(c, a.queryOptions()).ActiveSessions(ctx)
		return err
	})
	return sessions, err
}

// TerminateSession disconnects one PPP session by username and records the
// mutation in the command audit log.
func (a *Application) TerminateSession(ctx context.Context, deviceID int64, username string) error {
	err := a.manager.Execute(ctx, deviceID, func(c *routeros.Client) error {
		return netquery.NewTranslator(c, a.queryOptions()).TerminateSession(ctx, username)
	})
	a.logCommand(deviceID, "terminate_session", "/ppp/active/remove", err)
	return err
}

// SFPDiagnostics probes optical diagnostics across the device's ports.
func (a *Application) SFPDiagnostics(ctx context.Context, deviceID int64) ([]*netquery.SFPDiagnostic, error) {
	var diags []*netquery.SFPDiagnostic
	err := a.manager.Execute(ctx, deviceID, func(c *routeros.Client) error {
		var err error
		diags, err = netquery.NewTranslator(c, a.queryOptions()).SFPDiagnostics(ctx)
		return err
	})
	return diags, err
}

// SampleMetric polls one metric and returns the live value with stored
// history.
func (a *Application) SampleMetric(ctx context.Context, deviceID int64, t telemetry.MetricType) (*telemetry.Sample, error) {
	return a.sampler.Sample(ctx, deviceID, t)
}

func (a *Application) logCommand(deviceID int64, action, command string, cmdErr error) {
	entry := &domain.NetCommandLog{
		ID:         domain.NextID(),
		DeviceId:   deviceID,
		Action:     action,
		Command:    command,
		Status:     "success",
		ExecutedAt: time.Now(),
	}
	if cmdErr != nil {
		entry.Status = "failed"
		entry.ErrorMsg = cmdErr.Error()
	}
	if err := a.gormDB.Create(entry).Error; err != nil {
		zap.L().Warn("failed to write command log", zap.Error(err))
	}
}
