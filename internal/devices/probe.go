package devices

import (
	"context"
	"fmt"
	"time"

	pinglib "github.com/go-ping/ping"
	gosnmp "github.com/gosnmp/gosnmp"
	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/routeros"
	"go.uber.org/zap"
)

const sysDescrOid = ".1.3.6.1.2.1.1.1.0"

// ProbeAPI performs an immediate API probe for a single device: connect and
// read the device identity, persisting the probe outcome on the device row.
func (m *Manager) ProbeAPI(ctx context.Context, deviceID int64) error {
	dev, err := m.Device(ctx, deviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	if dev.ApiState != "enabled" || dev.Username == "" {
		return m.saveProbeResult(ctx, deviceID, "api", now, "failed", "api disabled or credentials missing")
	}

	var msg string
	err = m.Execute(ctx, deviceID, func(c *routeros.Client) error {
		reply, err := c.RunContext(ctx, "/system/identity/print")
		if err != nil {
			return err
		}
		msg = "connected"
		if len(reply.Re) > 0 {
			if name, ok := reply.Re[0].Map["name"]; ok {
				msg = fmt.Sprintf("identity=%s", name)
			}
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("api probe failed", zap.Int64("device_id", deviceID), zap.Error(err))
		return m.saveProbeResult(ctx, deviceID, "api", now, "failed", err.Error())
	}

	zap.L().Info("api probe ok", zap.Int64("device_id", deviceID), zap.String("msg", msg))
	return m.saveProbeResult(ctx, deviceID, "api", now, "ok", msg)
}

// ProbeSNMP fetches sysDescr over SNMP and fills the device model column.
func (m *Manager) ProbeSNMP(ctx context.Context, deviceID int64) error {
	dev, err := m.Device(ctx, deviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	if dev.SnmpState != "enabled" || dev.SnmpCommunity == "" {
		return m.saveProbeResult(ctx, deviceID, "snmp", now, "failed", "snmp disabled or community missing")
	}

	port := uint16(161)
	if dev.SnmpPort > 0 {
		port = uint16(dev.SnmpPort)
	}
	snmp := &gosnmp.GoSNMP{
		Target:    dev.Ipaddr,
		Port:      port,
		Community: dev.SnmpCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   5 * time.Second,
		Retries:   1,
		Context:   ctx,
	}
	if err := snmp.Connect(); err != nil {
		return m.saveProbeResult(ctx, deviceID, "snmp", now, "failed", err.Error())
	}
	defer snmp.Conn.Close()

	result, err := snmp.Get([]string{sysDescrOid})
	if err != nil || len(result.Variables) == 0 {
		msg := "no response"
		if err != nil {
			msg = err.Error()
		}
		return m.saveProbeResult(ctx, deviceID, "snmp", now, "failed", msg)
	}

	model := ""
	if b, ok := result.Variables[0].Value.([]byte); ok {
		model = string(b)
	}
	if model == "" {
		return m.saveProbeResult(ctx, deviceID, "snmp", now, "failed", "empty sysDescr")
	}

	updates := map[string]interface{}{
		"model":              model,
		"snmp_last_probe_at": now,
		"snmp_last_result":   "ok",
		"snmp_last_message":  "sysDescr ok",
	}
	if err := m.repo.Updates(ctx, deviceID, updates); err != nil {
		zap.L().Error("failed to update device model", zap.Int64("device_id", deviceID), zap.Error(err))
		return err
	}
	zap.L().Info("snmp probe ok", zap.Int64("device_id", deviceID), zap.String("model", model))
	return nil
}

// Ping measures ICMP latency to the device in milliseconds, -1 when
// unreachable.
func (m *Manager) Ping(dev *domain.NetDevice) int {
	pinger, err := pinglib.NewPinger(dev.Ipaddr)
	if err != nil {
		return -1
	}
	pinger.Count = 3
	pinger.Timeout = 3 * time.Second
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		return -1
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return -1
	}
	return int(stats.AvgRtt.Milliseconds())
}

func (m *Manager) saveProbeResult(ctx context.Context, deviceID int64, kind string, at time.Time, result, msg string) error {
	updates := map[string]interface{}{
		kind + "_last_probe_at": at,
		kind + "_last_result":   result,
		kind + "_last_message":  msg,
	}
	if err := m.repo.Updates(ctx, deviceID, updates); err != nil {
		zap.L().Error("failed to save probe result",
			zap.Int64("device_id", deviceID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	return nil
}
