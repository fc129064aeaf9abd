// Package oracle implements the pricing layer: every supported asset is
// registered with exactly one pricing strategy, price bounds, and a staleness
// heartbeat, and all valuations resolve through a common USD intermediate.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrUnsupportedAsset = errors.New("asset is not supported by the oracle")
	ErrStalePrice       = errors.New("price feed is stale")
	ErrPriceOutOfBounds = errors.New("price is outside configured bounds")
	ErrInvalidBounds    = errors.New("price bounds are invalid")
	ErrInvalidHeartbeat = errors.New("heartbeat is invalid")
	ErrFeedFailure      = errors.New("price feed read failed")
	ErrNonPositivePrice = errors.New("price is not positive")
	ErrLengthMismatch   = errors.New("asset and amount arrays differ in length")
	ErrAlreadySupported = errors.New("asset is already registered")
)

// Strategy selects how an asset's USD price is derived.
type Strategy uint8

const (
	// StrategyFeedUSD reads a feed that reports USD directly.
	StrategyFeedUSD Strategy = iota + 1
	// StrategyFeedETH reads an ETH-denominated feed and resolves the second
	// ETH/USD leg through the registry's shared ETH feed. Both legs are
	// staleness checked.
	StrategyFeedETH
	// StrategyPoolVirtualPrice reads an LP token's virtual price (underlying
	// per LP share) and anchors it to the underlying asset's USD price.
	StrategyPoolVirtualPrice
	// StrategyWrappedRate reads a wrapped asset's exchange rate and anchors it
	// to the unwrapped asset's USD price.
	StrategyWrappedRate
)

// PriceFeed is the read-only external price source contract: a price and the
// timestamp it was last updated.
type PriceFeed interface {
	Latest() (price sdkmath.LegacyDec, updatedAt time.Time, err error)
}

// AssetSettings configures pricing for one asset.
type AssetSettings struct {
	Strategy   Strategy
	Feed       PriceFeed
	MinPrice   sdkmath.LegacyDec // USD, inclusive lower bound
	MaxPrice   sdkmath.LegacyDec // USD, inclusive upper bound
	Heartbeat  time.Duration
	Underlying types.Asset // anchor asset for virtual-price and wrapped-rate strategies
}

// Registry maps assets to pricing strategies and answers valuation queries.
type Registry struct {
	mu           sync.RWMutex
	clock        types.Clock
	assets       map[common.Address]AssetSettings
	ethUSD       PriceFeed
	ethHeartbeat time.Duration
}

// NewRegistry creates a pricing registry. The ETH/USD feed backs the second
// leg of every ETH-denominated strategy and carries its own heartbeat.
func NewRegistry(clock types.Clock, ethUSD PriceFeed, ethHeartbeat time.Duration) (*Registry, error) {
	if clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if ethUSD != nil && ethHeartbeat <= 0 {
		return nil, errors.Join(ErrInvalidHeartbeat, errors.New("ETH/USD heartbeat must be positive"))
	}
	return &Registry{
		clock:        clock,
		assets:       make(map[common.Address]AssetSettings),
		ethUSD:       ethUSD,
		ethHeartbeat: ethHeartbeat,
	}, nil
}

var oracleLogger = logger.GetForComponent("value_oracle")

// Register adds pricing support for an asset. Bounds and heartbeat are
// validated here, never clamped; the feed is probed once so a misconfigured
// registration fails at governance time instead of at first valuation.
func (r *Registry) Register(asset types.Asset, settings AssetSettings) error {
	if asset.IsZero() {
		return errors.Join(ErrUnsupportedAsset, errors.New("asset is the zero value"))
	}
	if settings.Feed == nil {
		return errors.Join(ErrFeedFailure, fmt.Errorf("asset %s: feed is nil", asset.Symbol))
	}
	if settings.Heartbeat <= 0 {
		return errors.Join(ErrInvalidHeartbeat, fmt.Errorf("asset %s: heartbeat %s", asset.Symbol, settings.Heartbeat))
	}
	if settings.MinPrice.IsNil() || settings.MaxPrice.IsNil() || !settings.MinPrice.LT(settings.MaxPrice) {
		return errors.Join(ErrInvalidBounds,
			fmt.Errorf("asset %s: min %s must be below max %s", asset.Symbol, settings.MinPrice, settings.MaxPrice))
	}
	if settings.MinPrice.IsNegative() {
		return errors.Join(ErrInvalidBounds, fmt.Errorf("asset %s: min price is negative", asset.Symbol))
	}
	switch settings.Strategy {
	case StrategyFeedUSD:
	case StrategyFeedETH:
		if r.ethUSD == nil {
			return errors.Join(ErrFeedFailure, fmt.Errorf("asset %s: ETH strategy requires an ETH/USD feed", asset.Symbol))
		}
	case StrategyPoolVirtualPrice, StrategyWrappedRate:
		if settings.Underlying.IsZero() {
			return errors.Join(ErrUnsupportedAsset,
				fmt.Errorf("asset %s: derivative strategy requires an underlying asset", asset.Symbol))
		}
	default:
		return errors.Join(ErrUnsupportedAsset, fmt.Errorf("asset %s: unknown strategy %d", asset.Symbol, settings.Strategy))
	}

	r.mu.Lock()
	if _, ok := r.assets[asset.Addr]; ok {
		r.mu.Unlock()
		return errors.Join(ErrAlreadySupported, fmt.Errorf("asset %s", asset.Symbol))
	}
	r.assets[asset.Addr] = settings
	r.mu.Unlock()

	// Probe so a dead feed or out-of-bounds configuration is rejected now.
	if _, err := r.priceInUSD(asset, 0); err != nil {
		r.mu.Lock()
		delete(r.assets, asset.Addr)
		r.mu.Unlock()
		return fmt.Errorf("registration probe for %s failed: %w", asset.Symbol, err)
	}

	oracleLogger.Info().
		Str("asset", asset.Symbol).
		Uint8("strategy", uint8(settings.Strategy)).
		Str("minPrice", settings.MinPrice.String()).
		Str("maxPrice", settings.MaxPrice.String()).
		Dur("heartbeat", settings.Heartbeat).
		Msg("Asset registered with oracle")
	return nil
}

// IsSupported reports whether the oracle can price the asset.
func (r *Registry) IsSupported(asset types.Asset) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[asset.Addr]
	return ok
}

// PriceInUSD returns the asset's USD price per whole token.
func (r *Registry) PriceInUSD(asset types.Asset) (sdkmath.LegacyDec, error) {
	return r.priceInUSD(asset, 0)
}

// derivationLimit bounds derivative-strategy recursion; a virtual-price asset
// anchored on a wrapped asset anchored on a feed is depth two.
const derivationLimit = 4

func (r *Registry) priceInUSD(asset types.Asset, depth int) (sdkmath.LegacyDec, error) {
	if depth > derivationLimit {
		return sdkmath.LegacyDec{}, errors.Join(ErrUnsupportedAsset,
			fmt.Errorf("asset %s: derivation chain exceeds depth %d", asset.Symbol, derivationLimit))
	}

	r.mu.RLock()
	settings, ok := r.assets[asset.Addr]
	r.mu.RUnlock()
	if !ok {
		return sdkmath.LegacyDec{}, errors.Join(ErrUnsupportedAsset, fmt.Errorf("asset %s (%s)", asset.Symbol, asset.Addr.Hex()))
	}

	raw, updatedAt, err := settings.Feed.Latest()
	if err != nil {
		return sdkmath.LegacyDec{}, errors.Join(ErrFeedFailure, fmt.Errorf("asset %s: %w", asset.Symbol, err))
	}
	if err := r.checkFreshness(asset.Symbol, "primary", updatedAt, settings.Heartbeat); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if raw.IsNil() || !raw.IsPositive() {
		return sdkmath.LegacyDec{}, errors.Join(ErrNonPositivePrice, fmt.Errorf("asset %s: feed answered %s", asset.Symbol, raw))
	}

	var usd sdkmath.LegacyDec
	switch settings.Strategy {
	case StrategyFeedUSD:
		usd = raw

	case StrategyFeedETH:
		// Second leg: ETH/USD. Staleness is checked on both legs; a fresh
		// asset/ETH answer multiplied by a stale ETH/USD answer is still stale.
		ethPrice, ethUpdatedAt, err := r.ethUSD.Latest()
		if err != nil {
			return sdkmath.LegacyDec{}, errors.Join(ErrFeedFailure, fmt.Errorf("ETH/USD leg for %s: %w", asset.Symbol, err))
		}
		if err := r.checkFreshness(asset.Symbol, "eth_usd", ethUpdatedAt, r.ethHeartbeat); err != nil {
			return sdkmath.LegacyDec{}, err
		}
		if ethPrice.IsNil() || !ethPrice.IsPositive() {
			return sdkmath.LegacyDec{}, errors.Join(ErrNonPositivePrice, fmt.Errorf("ETH/USD leg for %s answered %s", asset.Symbol, ethPrice))
		}
		usd = raw.Mul(ethPrice)

	case StrategyPoolVirtualPrice, StrategyWrappedRate:
		anchor, err := r.priceInUSD(settings.Underlying, depth+1)
		if err != nil {
			return sdkmath.LegacyDec{}, fmt.Errorf("underlying leg for %s: %w", asset.Symbol, err)
		}
		usd = raw.Mul(anchor)

	default:
		return sdkmath.LegacyDec{}, errors.Join(ErrUnsupportedAsset, fmt.Errorf("asset %s: strategy %d", asset.Symbol, settings.Strategy))
	}

	if usd.LT(settings.MinPrice) || usd.GT(settings.MaxPrice) {
		return sdkmath.LegacyDec{}, errors.Join(ErrPriceOutOfBounds,
			fmt.Errorf("asset %s: price %s outside [%s, %s]", asset.Symbol, usd, settings.MinPrice, settings.MaxPrice))
	}
	return usd, nil
}

func (r *Registry) checkFreshness(symbol, leg string, updatedAt time.Time, heartbeat time.Duration) error {
	elapsed := r.clock.Now().Sub(updatedAt)
	if elapsed > heartbeat {
		return errors.Join(ErrStalePrice,
			fmt.Errorf("asset %s: %s leg answered %s ago, heartbeat %s", symbol, leg, elapsed, heartbeat))
	}
	return nil
}

// ValueOf converts amount of base (smallest units) into quote's smallest
// units at current USD prices.
func (r *Registry) ValueOf(base types.Asset, amount sdkmath.Int, quote types.Asset) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.Int{}, errors.New("amount is nil")
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("amount is negative: %s", amount)
	}
	// Zero balances skip pricing entirely. Deliberate leniency: a position can
	// legitimately hold zero of an asset the oracle cannot otherwise price,
	// and its value is zero either way.
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if base.Equal(quote) {
		return amount, nil
	}

	basePrice, err := r.priceInUSD(base, 0)
	if err != nil {
		return sdkmath.Int{}, err
	}
	quotePrice, err := r.priceInUSD(quote, 0)
	if err != nil {
		return sdkmath.Int{}, err
	}

	value := sdkmath.LegacyNewDecFromInt(amount).Mul(basePrice).Quo(quotePrice)
	if quote.Decimals >= base.Decimals {
		value = value.MulInt(sdkmath.NewIntWithDecimal(1, int(quote.Decimals-base.Decimals)))
	} else {
		value = value.QuoInt(sdkmath.NewIntWithDecimal(1, int(base.Decimals-quote.Decimals)))
	}
	return value.TruncateInt(), nil
}

// ValuesOf values parallel asset/amount arrays in quote units and sums them.
// Any one unpriceable nonzero entry fails the whole batch; no partial totals.
func (r *Registry) ValuesOf(assets []types.Asset, amounts []sdkmath.Int, quote types.Asset) (sdkmath.Int, error) {
	if len(assets) != len(amounts) {
		return sdkmath.Int{}, errors.Join(ErrLengthMismatch,
			fmt.Errorf("%d assets, %d amounts", len(assets), len(amounts)))
	}
	total := sdkmath.ZeroInt()
	for i := range assets {
		value, err := r.ValueOf(assets[i], amounts[i], quote)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("entry %d (%s): %w", i, assets[i].Symbol, err)
		}
		total = total.Add(value)
	}
	return total, nil
}
