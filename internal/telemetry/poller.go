package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/talkincode/routerman/internal/devices"
	"github.com/talkincode/routerman/internal/netquery"
	"github.com/talkincode/routerman/internal/routeros"
)

// DevicePoller reads live metric values from a router through the
// connection manager. It is the production PollFunc.
type DevicePoller struct {
	manager *devices.Manager
	opts    netquery.Options
}

func NewDevicePoller(manager *devices.Manager, opts netquery.Options) *DevicePoller {
	return &DevicePoller{manager: manager, opts: opts}
}

// Poll satisfies PollFunc.
func (p *DevicePoller) Poll(ctx context.Context, deviceID int64, t MetricType) (float64, string, error) {
	var value float64
	var metadata string
	err := p.manager.Execute(ctx, deviceID, func(c *routeros.Client) error {
		tr := netquery.NewTranslator(c, p.opts)
		switch t {
		case MetricCPU:
			res, err := tr.Resources(ctx)
			if err != nil {
				return err
			}
			value = cast.ToFloat64(res["cpu-load"])
			metadata = res["version"]
		case MetricMemory:
			res, err := tr.Resources(ctx)
			if err != nil {
				return err
			}
			total := cast.ToFloat64(res["total-memory"])
			free := cast.ToFloat64(res["free-memory"])
			if total > 0 {
				value = (total - free) / total * 100
			}
			metadata = fmt.Sprintf("free=%s total=%s", res["free-memory"], res["total-memory"])
		case MetricTemperature, MetricVoltage:
			health, err := tr.Health(ctx)
			if err != nil {
				return err
			}
			raw, ok := health[string(t)]
			if !ok {
				return fmt.Errorf("telemetry: device reports no %s", t)
			}
			value = cast.ToFloat64(strings.TrimRight(raw, "CVW% "))
			metadata = raw
		default:
			return fmt.Errorf("telemetry: unsupported metric type %q", t)
		}
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return value, metadata, nil
}
