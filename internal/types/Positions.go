/*

This file contains the types describing one unit of a cellar's portfolio: a
trusted (adaptor, configuration) pair under a stable integer identifier, and
the batched adaptor calls a strategist submits during a rebalance.

*/

package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// PositionID is a stable small-integer identifier assigned once by governance
// and never reused. By convention IDs are namespaced into per-protocol ranges
// (e.g., 1xx ERC20 holdings, 2xx lending markets, 3xx nested vaults) to keep
// multi-chain deployments collision free; the range is not enforced.
type PositionID uint32

// Position is one registry entry. Once trusted, the adaptor and configuration
// under an ID are permanently fixed; only Trusted may flip.
type Position struct {
	ID      PositionID      `json:"id"`
	Adaptor common.Address  `json:"adaptor"`
	Config  json.RawMessage `json:"config"`  // opaque, decoded only by the owning adaptor
	IsDebt  bool            `json:"is_debt"` // debt positions subtract from total assets
	Trusted bool            `json:"trusted"`
}

// AdaptorCall is one entry in a rebalance batch: an adaptor address plus the
// opaque payloads it should execute against the vault's asset context.
type AdaptorCall struct {
	Adaptor  common.Address    `json:"adaptor"`
	CallData []json.RawMessage `json:"call_data"`
}
