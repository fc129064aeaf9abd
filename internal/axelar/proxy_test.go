package axelar_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/axelar"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	governance = common.HexToAddress("0x60")
	target     = common.HexToAddress("0x7A")

	sourceChain  = "sommelier"
	sourceSender = "somm1gravityvoter"
)

// recordingHandler captures forwarded calls and optionally fails.
type recordingHandler struct {
	failErr error
	chains  []string
	calls   [][]byte
}

func (h *recordingHandler) HandleProxyCall(chain string, callData []byte) error {
	if h.failErr != nil {
		return h.failErr
	}
	h.chains = append(h.chains, chain)
	h.calls = append(h.calls, callData)
	return nil
}

type env struct {
	clock   *types.ManualClock
	proxy   *axelar.Proxy
	handler *recordingHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := types.NewManualClock(1, time.Unix(1_700_000_000, 0).UTC())
	authority := auth.NewAuthority(governance)
	proxy, err := axelar.NewProxy(authority, clock, []axelar.AllowedSource{
		{Chain: sourceChain, Sender: sourceSender},
	})
	require.NoError(t, err)

	handler := &recordingHandler{}
	require.NoError(t, proxy.RegisterTarget(governance, target, handler))
	return &env{clock: clock, proxy: proxy, handler: handler}
}

func (e *env) execute(t *testing.T, nonce uint64, callData []byte) error {
	t.Helper()
	deadline := uint64(e.clock.Now().Add(time.Hour).Unix())
	payload, err := axelar.EncodePayload(target, nonce, deadline, callData)
	require.NoError(t, err)
	return e.proxy.Execute([32]byte{}, sourceChain, sourceSender, payload)
}

func TestExecuteForwardsCallData(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.execute(t, 1, []byte("trust position 7")))
	require.Equal(t, [][]byte{[]byte("trust position 7")}, e.handler.calls)
	require.Equal(t, []string{sourceChain}, e.handler.chains)
	require.Equal(t, uint64(1), e.proxy.LastNonce())
}

func TestNonceMustStrictlyIncrease(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.execute(t, 5, nil))

	// Replay and lower nonces are both rejected.
	require.ErrorIs(t, e.execute(t, 5, nil), axelar.ErrNonceNotHigher)
	require.ErrorIs(t, e.execute(t, 3, nil), axelar.ErrNonceNotHigher)
	require.NoError(t, e.execute(t, 6, nil))
}

func TestSourceAllowList(t *testing.T) {
	e := newEnv(t)
	payload, err := axelar.EncodePayload(target, 1, uint64(e.clock.Now().Add(time.Hour).Unix()), nil)
	require.NoError(t, err)

	err = e.proxy.Execute([32]byte{}, "osmosis", sourceSender, payload)
	require.ErrorIs(t, err, axelar.ErrChainNotAllowed)

	err = e.proxy.Execute([32]byte{}, sourceChain, "somm1imposter", payload)
	require.ErrorIs(t, err, axelar.ErrSenderNotAllowed)
}

func TestDeadlineEnforced(t *testing.T) {
	e := newEnv(t)
	deadline := uint64(e.clock.Now().Add(time.Minute).Unix())
	payload, err := axelar.EncodePayload(target, 1, deadline, nil)
	require.NoError(t, err)

	e.clock.AdvanceTime(2 * time.Minute)
	err = e.proxy.Execute([32]byte{}, sourceChain, sourceSender, payload)
	require.ErrorIs(t, err, axelar.ErrDeadlineExceeded)
}

func TestUnknownTarget(t *testing.T) {
	e := newEnv(t)
	payload, err := axelar.EncodePayload(common.HexToAddress("0x99"), 1,
		uint64(e.clock.Now().Add(time.Hour).Unix()), nil)
	require.NoError(t, err)

	err = e.proxy.Execute([32]byte{}, sourceChain, sourceSender, payload)
	require.ErrorIs(t, err, axelar.ErrUnknownTarget)
}

func TestMalformedPayload(t *testing.T) {
	e := newEnv(t)
	err := e.proxy.Execute([32]byte{}, sourceChain, sourceSender, []byte{0x01, 0x02})
	require.ErrorIs(t, err, axelar.ErrBadPayload)
}

func TestNonceConsumedOnHandlerFailure(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("governance call reverted")
	e.handler.failErr = boom

	err := e.execute(t, 1, nil)
	require.ErrorIs(t, err, boom)

	// The nonce advanced anyway; the failed command cannot be replayed.
	require.Equal(t, uint64(1), e.proxy.LastNonce())
	require.ErrorIs(t, e.execute(t, 1, nil), axelar.ErrNonceNotHigher)
}

func TestLockIsTerminal(t *testing.T) {
	e := newEnv(t)
	require.False(t, e.proxy.Locked())

	err := e.proxy.Lock(common.HexToAddress("0x99"))
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	require.NoError(t, e.proxy.Lock(governance))
	require.True(t, e.proxy.Locked())
	require.ErrorIs(t, e.execute(t, 1, nil), axelar.ErrProxyLocked)
}

func TestMaxNonceLocksAsSideEffect(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.execute(t, ^uint64(0), nil))
	require.True(t, e.proxy.Locked())
	require.ErrorIs(t, e.execute(t, 1, nil), axelar.ErrProxyLocked)
}
