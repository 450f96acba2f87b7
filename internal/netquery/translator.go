// Package netquery maps domain operations onto RouterOS API commands and
// merges their replies.
package netquery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cast"
	"github.com/talkincode/routerman/internal/routeros"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pppoeInterfacePrefix is the conventional dynamic interface name MikroTik
// assigns to a PPPoE session: <pppoe-USERNAME>.
const pppoeInterfacePrefix = "<pppoe-"

// Runner executes one buffered command. *routeros.Client satisfies it;
// tests substitute a fake.
type Runner interface {
	RunContext(ctx context.Context, words ...string) (*routeros.Reply, error)
}

// Listener executes one streamed command.
type Listener interface {
	Listen(ctx context.Context, words ...string) (*routeros.AsyncReply, error)
}

// NotFoundError reports an expected row absent on the device.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("netquery: %s %q not found", e.Kind, e.Name)
}

// Options tune fan-out behavior.
type Options struct {
	ProbeConcurrency int           // max simultaneous per-port diagnostic calls
	ProbeTimeout     time.Duration // per-port diagnostic budget
}

func (o *Options) defaults() {
	if o.ProbeConcurrency <= 0 {
		o.ProbeConcurrency = 8
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
}

// Translator composes domain reads/writes from one or more commands
// against a single device channel.
type Translator struct {
	run  Runner
	opts Options
}

func NewTranslator(run Runner, opts Options) *Translator {
	opts.defaults()
	return &Translator{run: run, opts: opts}
}

// ActiveSession is one PPP session, optionally enriched with interface byte
// counters. Counter fields stay nil when no matching interface exists.
type ActiveSession struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	Uptime   string `json:"uptime"`
	Service  string `json:"service"`
	RxBytes  *int64 `json:"rx_bytes,omitempty"`
	TxBytes  *int64 `json:"tx_bytes,omitempty"`
}

// ActiveSessions lists PPP sessions joined with interface traffic
// counters. The session and interface tables are printed concurrently;
// counters are matched by the dynamic interface naming convention first
// and the bare username second. A session with no matching interface is
// returned without counters, never zeroed.
func (t *Translator) ActiveSessions(ctx context.Context) ([]*ActiveSession, error) {
	var sessReply, ifReply *routeros.Reply
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sessReply, err = t.run.RunContext(gctx, "/ppp/active/print")
		return err
	})
	g.Go(func() (err error) {
		ifReply, err = t.run.RunContext(gctx, "/interface/print")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("netquery: list sessions: %w", err)
	}

	ifaces := make(map[string]map[string]string, len(ifReply.Re))
	for _, re := range ifReply.Re {
		if name := re.Map["name"]; name != "" {
			ifaces[name] = re.Map
		}
	}

	sessions := make([]*ActiveSession, 0, len(sessReply.Re))
	for _, re := range sessReply.Re {
		s := &ActiveSession{
			ID:       re.Map[".id"],
			Username: re.Map["name"],
			Address:  re.Map["address"],
			Uptime:   re.Map["uptime"],
			Service:  re.Map["service"],
		}
		iface, ok := ifaces[pppoeInterfacePrefix+s.Username+">"]
		if !ok {
			iface, ok = ifaces[s.Username]
		}
		if ok {
			if v, present := iface["rx-byte"]; present {
				n := cast.ToInt64(v)
				s.RxBytes = &n
			}
			if v, present := iface["tx-byte"]; present {
				n := cast.ToInt64(v)
				s.TxBytes = &n
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// TerminateSession removes the active PPP session for the given username.
// Returns NotFoundError when no such session is online.
func (t *Translator) TerminateSession(ctx context.Context, username string) error {
	reply, err := t.run.RunContext(ctx, "/ppp/active/print", "?name="+username)
	if err != nil {
		return fmt.Errorf("netquery: find session: %w", err)
	}
	if len(reply.Re) == 0 {
		return &NotFoundError{Kind: "session", Name: username}
	}

	id := reply.Re[0].Map[".id"]
	if _, err := t.run.RunContext(ctx, "/ppp/active/remove", "=.id="+id); err != nil {
		return fmt.Errorf("netquery: remove session %s: %w", username, err)
	}
	zap.L().Info("session terminated",
		zap.String("username", username),
		zap.String("session_id", id),
	)
	return nil
}

// SFPDiagnostic is one optical port's instantaneous readings.
type SFPDiagnostic struct {
	Name        string            `json:"name"`
	Vendor      string            `json:"vendor,omitempty"`
	PartNumber  string            `json:"part_number,omitempty"`
	Temperature string            `json:"temperature,omitempty"`
	TxPower     string            `json:"tx_power,omitempty"`
	RxPower     string            `json:"rx_power,omitempty"`
	Wavelength  string            `json:"wavelength,omitempty"`
	Fields      map[string]string `json:"fields"`
}

// SFPDiagnostics probes optical diagnostics across ethernet ports. Only
// enabled, link-up ports are probed (monitoring a down port stalls until
// timeout), probes run concurrently with bounded parallelism, and a port
// whose probe fails or returns no optics data is silently dropped: one bad
// port never aborts the batch.
func (t *Translator) SFPDiagnostics(ctx context.Context) ([]*SFPDiagnostic, error) {
	reply, err := t.run.RunContext(ctx, "/interface/ethernet/print", "=detail=")
	if err != nil {
		return nil, fmt.Errorf("netquery: list ethernet ports: %w", err)
	}

	type candidate struct {
		id   string
		name string
	}
	var candidates []candidate
	for _, re := range reply.Re {
		if re.Map["disabled"] == "false" && re.Map["running"] == "true" {
			candidates = append(candidates, candidate{id: re.Map[".id"], name: re.Map["name"]})
		}
	}
	if len(candidates) == 0 {
		return []*SFPDiagnostic{}, nil
	}

	pool, err := ants.NewPool(t.opts.ProbeConcurrency)
	if err != nil {
		return nil, fmt.Errorf("netquery: probe pool: %w", err)
	}
	defer pool.Release()

	results := make([]*SFPDiagnostic, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		i, cand := i, cand
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, t.opts.ProbeTimeout)
			defer cancel()
			mon, err := t.run.RunContext(pctx, "/interface/ethernet/monitor", "=.id="+cand.id, "=once=")
			if err != nil {
				zap.L().Debug("port probe failed",
					zap.String("port", cand.name),
					zap.Error(err),
				)
				return
			}
			if len(mon.Re) == 0 {
				return
			}
			fields := mon.Re[0].Map
			if !hasOpticsData(fields) {
				return
			}
			results[i] = &SFPDiagnostic{
				Name:        cand.name,
				Vendor:      fields["sfp-vendor-name"],
				PartNumber:  fields["sfp-vendor-part-number"],
				Temperature: fields["sfp-temperature"],
				TxPower:     fields["sfp-tx-power"],
				RxPower:     fields["sfp-rx-power"],
				Wavelength:  fields["sfp-wavelength"],
				Fields:      fields,
			}
		})
		if submitErr != nil {
			wg.Done()
			zap.L().Warn("port probe not scheduled", zap.String("port", cand.name), zap.Error(submitErr))
		}
	}
	wg.Wait()

	diags := make([]*SFPDiagnostic, 0, len(candidates))
	for _, d := range results {
		if d != nil {
			diags = append(diags, d)
		}
	}
	return diags, nil
}

// hasOpticsData classifies a monitor result as SFP-relevant: any
// sfp-prefixed field or a populated power reading.
func hasOpticsData(fields map[string]string) bool {
	for k := range fields {
		if strings.HasPrefix(k, "sfp-") {
			return true
		}
	}
	return fields["tx-power"] != "" || fields["rx-power"] != ""
}

// Health reads the health table, normalizing both the flat pre-v7 map and
// the v7 name/value row list into one key/value map.
func (t *Translator) Health(ctx context.Context) (map[string]string, error) {
	reply, err := t.run.RunContext(ctx, "/system/health/print")
	if err != nil {
		return nil, fmt.Errorf("netquery: health: %w", err)
	}

	out := make(map[string]string)
	for _, re := range reply.Re {
		name, hasName := re.Map["name"]
		value, hasValue := re.Map["value"]
		if hasName && hasValue {
			out[name] = value
			continue
		}
		for k, v := range re.Map {
			if k != ".id" {
				out[k] = v
			}
		}
	}
	return out, nil
}

// Resources reads the resource table (cpu-load, memory, uptime, version).
func (t *Translator) Resources(ctx context.Context) (map[string]string, error) {
	reply, err := t.run.RunContext(ctx, "/system/resource/print")
	if err != nil {
		return nil, fmt.Errorf("netquery: resources: %w", err)
	}
	if len(reply.Re) == 0 {
		return nil, fmt.Errorf("netquery: resources: empty reply")
	}
	out := make(map[string]string, len(reply.Re[0].Map))
	for k, v := range reply.Re[0].Map {
		out[k] = v
	}
	return out, nil
}

// MonitorTraffic starts a live traffic monitor for one interface. The
// caller consumes rows from the returned stream and cancels it when done.
func (t *Translator) MonitorTraffic(ctx context.Context, iface string) (*routeros.AsyncReply, error) {
	l, ok := t.run.(Listener)
	if !ok {
		return nil, fmt.Errorf("netquery: runner does not support streaming")
	}
	return l.Listen(ctx, "/interface/monitor-traffic", "=interface="+iface)
}
