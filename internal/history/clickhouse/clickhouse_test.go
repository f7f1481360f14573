package clickhouse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/autosd/internal/history"
)

// Runs only against a real server: AUTOSD_TEST_CLICKHOUSE_ADDR=localhost:9000
func TestClickHouseSink_Integration(t *testing.T) {
	addr := os.Getenv("AUTOSD_TEST_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("AUTOSD_TEST_CLICKHOUSE_ADDR not set")
	}
	sink, err := New(Options{Addr: addr, Table: "shutdown_history_test"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now()
	for _, typ := range []history.EventType{history.EventArmed, history.EventFinalWarning, history.EventExecuted} {
		assert.NoError(t, sink.Send(ctx, history.Event{ScheduleID: "sch-1-1", Type: typ, Timestamp: now, Result: history.ResultOK}))
	}

	var n uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT count() FROM shutdown_history_test WHERE schedule_id = 'sch-1-1'").Scan(&n))
	assert.GreaterOrEqual(t, n, uint64(3))
}

func TestNewFailsFastOnUnreachableServer(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := New(Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
