package metrics

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcwatch/watcher"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// staticSource returns a snapshot that can be swapped between scrapes.
type staticSource struct {
	mu       sync.Mutex
	snapshot watcher.Snapshot
}

func (s *staticSource) Snapshot() watcher.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot
}

func (s *staticSource) set(snapshot watcher.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snapshot
}

var testSnapshot = watcher.Snapshot{
	HeaderTip:       850000,
	FilterHeaderTip: 849000,
	FilterTip:       848000,
	Balance:         1500,
	BalanceIn:       6500,
	BalanceOut:      5000,
	UtxoCount:       1,
	StxoCount:       1,
}

// TestCollectorExportsSnapshot verifies every snapshot field is exported.
func TestCollectorExportsSnapshot(t *testing.T) {
	t.Parallel()

	// Arrange.
	source := &staticSource{snapshot: testSnapshot}
	c := NewCollector(source)

	expected := `
# HELP btcwatch_balance_sats Current balance of the watched addresses in satoshis.
# TYPE btcwatch_balance_sats gauge
btcwatch_balance_sats 1500
# HELP btcwatch_filter_tip Height up to which compact filters are scanned.
# TYPE btcwatch_filter_tip gauge
btcwatch_filter_tip 848000
# HELP btcwatch_stxo_count Number of spent transactions that paid the watched addresses.
# TYPE btcwatch_stxo_count gauge
btcwatch_stxo_count 1
`

	// Act & Assert.
	err := testutil.CollectAndCompare(
		c, strings.NewReader(expected), "btcwatch_balance_sats",
		"btcwatch_filter_tip", "btcwatch_stxo_count",
	)
	require.NoError(t, err)
	require.Equal(t, 8, testutil.CollectAndCount(c))

	// Act: the next scrape reads the new snapshot.
	next := testSnapshot
	next.Balance = -20
	source.set(next)

	// Assert.
	require.InDelta(t, -20.0, testutil.ToFloat64(
		onlyGauge(c, "balance_sats"),
	), 0)
}

// onlyGauge returns a collector exporting only the named gauge of c.
func onlyGauge(c *Collector, name string) *Collector {
	for _, g := range c.gauges {
		if strings.Contains(g.desc.String(), `"btcwatch_`+name+`"`) {
			return &Collector{source: c.source, gauges: []gauge{g}}
		}
	}

	return nil
}

// TestServerEndpoints verifies the metrics and health endpoints.
func TestServerEndpoints(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, err := NewServer("127.0.0.1:0", &staticSource{
		snapshot: testSnapshot,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Act.
	metricsBody := get(t, ts.URL+"/metrics")
	healthBody := get(t, ts.URL+"/healthz")

	// Assert.
	require.Contains(t, metricsBody, "btcwatch_header_tip 850000")
	require.Contains(t, metricsBody, "btcwatch_received_sats 6500")
	require.Contains(t, metricsBody, "go_goroutines")
	require.Equal(t, "ok", healthBody)

	families, err := s.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

// TestServerServeShutdown verifies Serve returns nil after Shutdown.
func TestServerServeShutdown(t *testing.T) {
	t.Parallel()

	// Arrange.
	s, err := NewServer("", &staticSource{})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(l)
	}()

	require.Equal(t, "ok", get(t, "http://"+l.Addr().String()+"/healthz"))

	// Act.
	require.NoError(t, s.Shutdown(t.Context()))

	// Assert.
	require.NoError(t, <-errChan)
}

// get fetches url and returns the body.
func get(t *testing.T, url string) string {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}
