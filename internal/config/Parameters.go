/*

This file contains the default operating parameters for a cellar deployment.

These values are the wiring-time fallbacks for parameters governance can tune
at runtime. Environment variables override the accounting-critical ones; the
rest start here.

*/

package config

import "time"

var (
	// DefaultSupplyCap disables the share supply cap. Governance raises a cap
	// only on cellars in guarded launch.
	DefaultSupplyCap = "0"

	// DefaultRateLimitWindow is the rolling window for the flow limiter.
	DefaultRateLimitWindow = 1 * time.Hour
	// DefaultRateLimitMaxAssets disables the flow limiter. Units are
	// holding-asset smallest units per window when set.
	DefaultRateLimitMaxAssets = "0"

	// DefaultPriceObserverWindow is the lookback for the time-weighted average
	// share price.
	DefaultPriceObserverWindow = 24 * time.Hour
	// DefaultPriceObserverMinInterval throttles observation writes.
	DefaultPriceObserverMinInterval = 10 * time.Minute
	// DefaultAllowedPriceDeviation trips the circuit breaker when the live
	// share price strays this far from the time-weighted average.
	DefaultAllowedPriceDeviation = "0.05"

	// DefaultUpkeepMaxGasPrice disables the fee upkeep gas guard. Units are
	// wei when set.
	DefaultUpkeepMaxGasPrice = "0"

	// DefaultVestingPeriod is the linear vesting period for strategist payout
	// grants.
	DefaultVestingPeriod = 30 * 24 * time.Hour

	// DefaultOracleHeartbeat is the staleness bound applied to price feeds
	// registered at wiring time.
	DefaultOracleHeartbeat = 24 * time.Hour
)
