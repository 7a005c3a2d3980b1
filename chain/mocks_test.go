package chain

import (
	"time"

	"github.com/lightninglabs/neutrino"
	"github.com/lightninglabs/neutrino/headerfs"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
)

var (
	_ rescanner    = (*mockRescanner)(nil)
	_ ChainService = (*mockChainService)(nil)
)

// mockRescanner is a mock implementation of a rescanner interface for use in
// tests.
type mockRescanner struct {
	// opts holds the options the rescan was created with.
	opts []neutrino.RescanOption

	// errChan is returned by Start. A nil channel never delivers.
	errChan chan error
}

func (m *mockRescanner) Start() <-chan error {
	return m.errChan
}

func (m *mockRescanner) WaitForShutdown() {
	// no-op
}

// mockChainService is a mock implementation of a chain service for use in
// tests.
type mockChainService struct {
	mock.Mock
}

func (m *mockChainService) BestBlock() (*headerfs.BlockStamp, error) {
	args := m.Called()
	return args.Get(0).(*headerfs.BlockStamp), args.Error(1)
}

func (m *mockChainService) IsCurrent() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockChainService) ConnectedCount() int32 {
	args := m.Called()
	return args.Get(0).(int32)
}

// testHarness bundles a NeutrinoClient built from mocks with the handles the
// tests drive it through.
type testHarness struct {
	client  *NeutrinoClient
	cs      *mockChainService
	rescan  *mockRescanner
	ticker  *ticker.Force
	headers uint32
	filters uint32
}

// newMockNeutrinoClient constructs a neutrino client with a mock chain
// service, a mock rescanner and a force ticker.
func newMockNeutrinoClient(cfg NeutrinoConfig) *testHarness {
	h := &testHarness{
		cs:     &mockChainService{},
		rescan: &mockRescanner{},
		ticker: ticker.NewForce(time.Hour),
	}

	newRescan := func(ro ...neutrino.RescanOption) rescanner {
		h.rescan.opts = ro
		return h.rescan
	}

	chainTips := func() (uint32, uint32, error) {
		return h.headers, h.filters, nil
	}

	newTicker := func(time.Duration) ticker.Ticker {
		return h.ticker
	}

	h.client = newNeutrinoClient(
		h.cs, cfg, newRescan, chainTips, newTicker,
	)

	return h
}
