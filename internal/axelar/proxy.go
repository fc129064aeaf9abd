// Package axelar implements the cross-chain command proxy: governance
// messages arrive as general-message-passing payloads from an allow-listed
// (chain, sender) pair, carry a strictly increasing nonce and a deadline, and
// are forwarded to a registered target handler. Nonce math doubles as the
// kill switch: the maximum nonce is a terminal state that permanently locks
// the proxy, and an explicit Lock call reaches the same state directly.
package axelar

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrChainNotAllowed  = errors.New("source chain is not allow-listed")
	ErrSenderNotAllowed = errors.New("source sender is not allow-listed")
	ErrNonceNotHigher   = errors.New("payload nonce does not exceed the last executed nonce")
	ErrProxyLocked      = errors.New("proxy is permanently locked")
	ErrDeadlineExceeded = errors.New("payload deadline has passed")
	ErrUnknownTarget    = errors.New("payload target has no registered handler")
	ErrBadPayload       = errors.New("payload does not decode")
)

var axelarLogger = logger.GetForComponent("axelar_proxy")

// lockedNonce is the terminal nonce value. Once lastNonce reaches it the
// proxy rejects everything forever; recovery is deploying a fresh proxy.
const lockedNonce = math.MaxUint64

// TargetHandler receives the decoded calldata of a forwarded command.
type TargetHandler interface {
	HandleProxyCall(sourceChain string, callData []byte) error
}

// payloadArgs is the wire shape: (address target, uint256 nonce,
// uint256 deadline, bytes callData), standard ABI encoding.
var payloadArgs abi.Arguments

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)
	payloadArgs = abi.Arguments{
		{Name: "target", Type: addressType},
		{Name: "nonce", Type: uint256Type},
		{Name: "deadline", Type: uint256Type},
		{Name: "callData", Type: bytesType},
	}
}

type sourceKey struct {
	chain  string
	sender string
}

// Proxy validates and forwards cross-chain commands.
type Proxy struct {
	authority *auth.Authority
	clock     types.Clock

	mu        sync.Mutex
	allowed   map[sourceKey]bool
	handlers  map[common.Address]TargetHandler
	lastNonce uint64
}

// AllowedSource is one trusted (chain, sender) pair.
type AllowedSource struct {
	Chain  string
	Sender string
}

// NewProxy creates a proxy trusting the given sources.
func NewProxy(authority *auth.Authority, clock types.Clock, sources []AllowedSource) (*Proxy, error) {
	if authority == nil || clock == nil {
		return nil, errors.New("nil collaborator")
	}
	if len(sources) == 0 {
		return nil, errors.New("at least one allowed source is required")
	}
	allowed := make(map[sourceKey]bool, len(sources))
	for _, s := range sources {
		if s.Chain == "" || s.Sender == "" {
			return nil, fmt.Errorf("allowed source %q/%q is incomplete", s.Chain, s.Sender)
		}
		allowed[sourceKey{chain: s.Chain, sender: s.Sender}] = true
	}
	return &Proxy{
		authority: authority,
		clock:     clock,
		allowed:   allowed,
		handlers:  make(map[common.Address]TargetHandler),
	}, nil
}

// RegisterTarget binds a handler to a target address. Governance only.
func (p *Proxy) RegisterTarget(caller, target common.Address, handler TargetHandler) error {
	if err := p.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[target] = handler
	return nil
}

// LastNonce returns the highest executed nonce.
func (p *Proxy) LastNonce() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastNonce
}

// Locked reports whether the proxy has reached its terminal state.
func (p *Proxy) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastNonce == lockedNonce
}

// Lock permanently disables the proxy. Governance only; there is no unlock.
func (p *Proxy) Lock(caller common.Address) error {
	if err := p.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastNonce = lockedNonce
	axelarLogger.Warn().Msg("Proxy permanently locked")
	return nil
}

// Execute validates one inbound command and forwards its calldata to the
// registered target handler. The nonce must strictly exceed the last executed
// nonce; executing a payload carrying the maximum nonce locks the proxy as a
// side effect.
func (p *Proxy) Execute(commandID [32]byte, sourceChain, sourceAddress string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastNonce == lockedNonce {
		return ErrProxyLocked
	}
	if !p.allowedChainLocked(sourceChain) {
		return errors.Join(ErrChainNotAllowed, fmt.Errorf("chain %q", sourceChain))
	}
	if !p.allowed[sourceKey{chain: sourceChain, sender: sourceAddress}] {
		return errors.Join(ErrSenderNotAllowed, fmt.Errorf("sender %q on %q", sourceAddress, sourceChain))
	}

	target, nonce, deadline, callData, err := decodePayload(payload)
	if err != nil {
		return err
	}
	if nonce <= p.lastNonce {
		return errors.Join(ErrNonceNotHigher,
			fmt.Errorf("nonce %d, last executed %d", nonce, p.lastNonce))
	}
	if now := uint64(p.clock.Now().Unix()); now > deadline {
		return errors.Join(ErrDeadlineExceeded,
			fmt.Errorf("deadline %d, now %d", deadline, now))
	}
	handler, ok := p.handlers[target]
	if !ok {
		return errors.Join(ErrUnknownTarget, fmt.Errorf("target %s", target.Hex()))
	}

	p.lastNonce = nonce
	if err := handler.HandleProxyCall(sourceChain, callData); err != nil {
		return fmt.Errorf("target %s: %w", target.Hex(), err)
	}

	axelarLogger.Info().
		Hex("commandID", commandID[:]).
		Str("sourceChain", sourceChain).
		Str("target", target.Hex()).
		Uint64("nonce", nonce).
		Msg("Cross-chain command executed")
	if p.lastNonce == lockedNonce {
		axelarLogger.Warn().Msg("Maximum nonce executed, proxy is now locked")
	}
	return nil
}

func (p *Proxy) allowedChainLocked(chain string) bool {
	for key := range p.allowed {
		if key.chain == chain {
			return true
		}
	}
	return false
}

// decodePayload unpacks (target, nonce, deadline, callData). Nonce and
// deadline arrive as uint256 but must fit uint64.
func decodePayload(payload []byte) (common.Address, uint64, uint64, []byte, error) {
	values, err := payloadArgs.Unpack(payload)
	if err != nil {
		return common.Address{}, 0, 0, nil, errors.Join(ErrBadPayload, err)
	}
	target, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, 0, 0, nil, errors.Join(ErrBadPayload, errors.New("target is not an address"))
	}
	nonce, err := uint64FromBig(values[1], "nonce")
	if err != nil {
		return common.Address{}, 0, 0, nil, err
	}
	deadline, err := uint64FromBig(values[2], "deadline")
	if err != nil {
		return common.Address{}, 0, 0, nil, err
	}
	callData, ok := values[3].([]byte)
	if !ok {
		return common.Address{}, 0, 0, nil, errors.Join(ErrBadPayload, errors.New("callData is not bytes"))
	}
	return target, nonce, deadline, callData, nil
}

func uint64FromBig(value any, field string) (uint64, error) {
	n, ok := value.(*big.Int)
	if !ok {
		return 0, errors.Join(ErrBadPayload, fmt.Errorf("%s is not an integer", field))
	}
	if !n.IsUint64() {
		// A nonce beyond uint64 range is treated as the lock sentinel rather
		// than rejected, preserving the max-value kill switch from chains that
		// send full-width values.
		if field == "nonce" {
			return lockedNonce, nil
		}
		return 0, errors.Join(ErrBadPayload, fmt.Errorf("%s overflows uint64", field))
	}
	return n.Uint64(), nil
}

// EncodePayload is the inverse of the wire decoding, used by tests and by
// operators preparing commands.
func EncodePayload(target common.Address, nonce, deadline uint64, callData []byte) ([]byte, error) {
	return payloadArgs.Pack(target, new(big.Int).SetUint64(nonce), new(big.Int).SetUint64(deadline), callData)
}
