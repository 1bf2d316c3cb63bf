package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopAction(ctx context.Context, conn Conn) error {
	return nil
}

func mustRegister(t *testing.T, r *Registry, id, target string, deps ...string) {
	t.Helper()
	require.NoError(t, r.Register(Step{ID: id, Target: target, DependsOn: deps, Action: noopAction}))
}

// pipelineRegistry mirrors the shipped step layout: a tickers root, a
// prices -> daily -> hundred chain, and two second consumers of tickers.
func pipelineRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	mustRegister(t, r, "tickers_v1", "tickers")
	mustRegister(t, r, "prices_v2", "prices", "tickers")
	mustRegister(t, r, "daily_aggs_v2", "daily_aggs", "prices")
	mustRegister(t, r, "hundred_day_aggs_v1", "hundred_day_aggs", "daily_aggs")
	mustRegister(t, r, "market_cap_v2", "market_cap", "tickers")
	mustRegister(t, r, "insider_trades_v2", "insider_trades", "tickers")
	return r
}

func planIDs(p *Plan) []string {
	ids := make([]string, 0, len(p.Steps))
	for _, ps := range p.Steps {
		ids = append(ids, ps.Step.ID)
	}
	return ids
}

type fakeConn struct {
	execs  []string
	closed bool
	onExec func(query string) error
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.execs = append(c.execs, query)
	if c.onExec != nil {
		return c.onExec(query)
	}
	return nil
}

func (c *fakeConn) Count(ctx context.Context, query string, args ...any) (int64, error) {
	return 1, nil
}

func (c *fakeConn) Ints(ctx context.Context, query string, args ...any) ([]int64, error) {
	return nil, nil
}

func (c *fakeConn) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	conns      []*fakeConn
	connectErr error
}

func (f *fakeConnector) Connect(ctx context.Context) (Conn, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	return conn, nil
}

type fakeReporter struct {
	calls int
	err   error
}

func (f *fakeReporter) Summarize(ctx context.Context) error {
	f.calls++
	return f.err
}
