package netquery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/routerman/internal/routeros"
	"github.com/talkincode/routerman/internal/routeros/proto"
)

func row(kv ...string) *proto.Sentence {
	s := proto.NewSentence()
	s.Word = "!re"
	for i := 0; i+1 < len(kv); i += 2 {
		s.List = append(s.List, proto.Pair{Key: kv[i], Value: kv[i+1]})
		s.Map[kv[i]] = kv[i+1]
	}
	return s
}

func reply(rows ...*proto.Sentence) *routeros.Reply {
	done := proto.NewSentence()
	done.Word = "!done"
	return &routeros.Reply{Re: rows, Done: done}
}

// fakeRunner dispatches commands to canned handlers and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	handler func(words []string) (*routeros.Reply, error)
	calls   [][]string
}

func (f *fakeRunner) RunContext(ctx context.Context, words ...string) (*routeros.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, words)
	f.mu.Unlock()
	return f.handler(words)
}

func (f *fakeRunner) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestActiveSessionsJoinsCounters(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		switch words[0] {
		case "/ppp/active/print":
			return reply(
				row(".id", "*A1", "name", "alice", "address", "10.0.0.5", "uptime", "1h2m", "service", "pppoe"),
				row(".id", "*A2", "name", "bob", "address", "10.0.0.6", "uptime", "5m", "service", "pppoe"),
				row(".id", "*A3", "name", "carol", "address", "10.0.0.7", "uptime", "2h", "service", "pptp"),
			), nil
		case "/interface/print":
			return reply(
				row("name", "<pppoe-alice>", "rx-byte", "1000", "tx-byte", "2000"),
				row("name", "carol", "rx-byte", "42", "tx-byte", "43"),
				row("name", "ether1", "rx-byte", "999999", "tx-byte", "888888"),
			), nil
		}
		return nil, errors.New("unexpected command: " + words[0])
	}}
	tr := NewTranslator(run, Options{})

	sessions, err := tr.ActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	alice := sessions[0]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, "10.0.0.5", alice.Address)
	require.NotNil(t, alice.RxBytes)
	require.NotNil(t, alice.TxBytes)
	assert.Equal(t, int64(1000), *alice.RxBytes)
	assert.Equal(t, int64(2000), *alice.TxBytes)

	// No interface matches bob: counters absent, not zero.
	bob := sessions[1]
	assert.Equal(t, "bob", bob.Username)
	assert.Nil(t, bob.RxBytes)
	assert.Nil(t, bob.TxBytes)

	// carol matches by bare username.
	carol := sessions[2]
	require.NotNil(t, carol.RxBytes)
	assert.Equal(t, int64(42), *carol.RxBytes)
}

func TestActiveSessionsPropagatesFailure(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		if words[0] == "/ppp/active/print" {
			return nil, errors.New("interrupted")
		}
		return reply(), nil
	}}
	tr := NewTranslator(run, Options{})

	_, err := tr.ActiveSessions(context.Background())
	require.Error(t, err)
}

func TestTerminateSession(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		switch words[0] {
		case "/ppp/active/print":
			return reply(row(".id", "*E7", "name", "alice")), nil
		case "/ppp/active/remove":
			return reply(), nil
		}
		return nil, errors.New("unexpected command: " + words[0])
	}}
	tr := NewTranslator(run, Options{})

	require.NoError(t, tr.TerminateSession(context.Background(), "alice"))

	calls := run.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"/ppp/active/print", "?name=alice"}, calls[0])
	assert.Equal(t, []string{"/ppp/active/remove", "=.id=*E7"}, calls[1])
}

func TestTerminateSessionNotFound(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		return reply(), nil
	}}
	tr := NewTranslator(run, Options{})

	err := tr.TerminateSession(context.Background(), "ghost")
	require.Error(t, err)
	var nfErr *NotFoundError
	require.True(t, errors.As(err, &nfErr))
	assert.Equal(t, "session", nfErr.Kind)
	assert.Equal(t, "ghost", nfErr.Name)

	// Remove must never run without a matching row.
	for _, call := range run.recorded() {
		assert.NotEqual(t, "/ppp/active/remove", call[0])
	}
}

func TestSFPDiagnosticsFanOut(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		switch words[0] {
		case "/interface/ethernet/print":
			return reply(
				row(".id", "*1", "name", "sfp-sfpplus1", "disabled", "false", "running", "true"),
				row(".id", "*2", "name", "sfp-sfpplus2", "disabled", "false", "running", "true"),
				row(".id", "*3", "name", "sfp-sfpplus3", "disabled", "false", "running", "true"),
				row(".id", "*4", "name", "ether4", "disabled", "true", "running", "false"),
			), nil
		case "/interface/ethernet/monitor":
			id := strings.TrimPrefix(words[1], "=.id=")
			switch id {
			case "*1":
				return reply(row("name", "sfp-sfpplus1", "sfp-tx-power", "-5.1", "sfp-rx-power", "-7.3", "sfp-vendor-name", "MikroTik")), nil
			case "*2":
				return nil, errors.New("timeout")
			case "*3":
				return reply(row("name", "sfp-sfpplus3", "sfp-tx-power", "-4.8", "sfp-rx-power", "-6.9")), nil
			}
		}
		return nil, errors.New("unexpected command: " + strings.Join(words, " "))
	}}
	tr := NewTranslator(run, Options{ProbeConcurrency: 2})

	diags, err := tr.SFPDiagnostics(context.Background())
	require.NoError(t, err)
	require.Len(t, diags, 2)

	// Order follows the port list, the failed port is simply absent.
	assert.Equal(t, "sfp-sfpplus1", diags[0].Name)
	assert.Equal(t, "-5.1", diags[0].TxPower)
	assert.Equal(t, "MikroTik", diags[0].Vendor)
	assert.Equal(t, "sfp-sfpplus3", diags[1].Name)

	// The disabled port was never probed.
	for _, call := range run.recorded() {
		if call[0] == "/interface/ethernet/monitor" {
			assert.NotEqual(t, "=.id=*4", call[1])
		}
	}
}

func TestSFPDiagnosticsSkipsCopperPorts(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		switch words[0] {
		case "/interface/ethernet/print":
			return reply(row(".id", "*1", "name", "ether1", "disabled", "false", "running", "true")), nil
		case "/interface/ethernet/monitor":
			// Copper port: status only, no optics fields.
			return reply(row("name", "ether1", "status", "link-ok", "rate", "1Gbps")), nil
		}
		return nil, errors.New("unexpected command")
	}}
	tr := NewTranslator(run, Options{})

	diags, err := tr.SFPDiagnostics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestHealthNormalizesV7Rows(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		return reply(
			row(".id", "*1", "name", "temperature", "value", "38", "type", "C"),
			row(".id", "*2", "name", "voltage", "value", "24.1", "type", "V"),
		), nil
	}}
	tr := NewTranslator(run, Options{})

	health, err := tr.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "38", health["temperature"])
	assert.Equal(t, "24.1", health["voltage"])
}

func TestHealthAcceptsFlatMap(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		return reply(row("temperature", "41C", "voltage", "23.9V")), nil
	}}
	tr := NewTranslator(run, Options{})

	health, err := tr.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "41C", health["temperature"])
	assert.Equal(t, "23.9V", health["voltage"])
}

func TestResources(t *testing.T) {
	run := &fakeRunner{handler: func(words []string) (*routeros.Reply, error) {
		return reply(row("cpu-load", "7", "free-memory", "1048576", "total-memory", "4194304", "version", "7.14.2")), nil
	}}
	tr := NewTranslator(run, Options{})

	res, err := tr.Resources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", res["cpu-load"])
	assert.Equal(t, "7.14.2", res["version"])
}
