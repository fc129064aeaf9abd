package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// CellarName is the display name of the cellar this engine instance runs.
	CellarName string
	// CellarAddress is the cellar's account identity, hex encoded.
	CellarAddress string
	// GovernanceAddress is the initial governance member, hex encoded.
	GovernanceAddress string
	// StrategistAddress is the initial strategist member, hex encoded.
	StrategistAddress string
	// AutomationAddress is the initial automation member, hex encoded.
	AutomationAddress string

	// EngineCycleSeconds is the interval between engine upkeep cycles.
	EngineCycleSeconds uint64
	// ShareLockBlocks is how many blocks freshly minted shares stay frozen.
	ShareLockBlocks uint64
	// MinimumInitialDeposit seeds the first mint, in whole holding-asset units,
	// e.g. "1000" for 1000 USDC.
	MinimumInitialDeposit string
	// RebalanceDeviation is the allowed total-assets move per rebalance, e.g. "0.003".
	RebalanceDeviation string
	// MaxPositions caps the cellar's active position list.
	MaxPositions uint64

	// PlatformFeeRate is the annual management fee fraction, e.g. "0.02".
	PlatformFeeRate string
	// PerformanceFeeRate is the fraction of gains above the high-water mark.
	PerformanceFeeRate string
	// UpkeepFrequencySeconds is the minimum time between fee upkeeps.
	UpkeepFrequencySeconds uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	CellarName, err = getEnv("CELLAR_NAME")
	if err != nil {
		return err
	}

	CellarAddress, err = getEnv("CELLAR_ADDRESS")
	if err != nil {
		return err
	}

	GovernanceAddress, err = getEnv("GOVERNANCE_ADDRESS")
	if err != nil {
		return err
	}

	StrategistAddress, err = getEnv("STRATEGIST_ADDRESS")
	if err != nil {
		return err
	}

	AutomationAddress, err = getEnv("AUTOMATION_ADDRESS")
	if err != nil {
		return err
	}

	EngineCycleSeconds, err = getEnvAsUint64("ENGINE_CYCLE_SECONDS")
	if err != nil {
		return err
	}

	ShareLockBlocks, err = getEnvAsUint64("SHARE_LOCK_BLOCKS")
	if err != nil {
		return err
	}

	MinimumInitialDeposit, err = getEnv("MINIMUM_INITIAL_DEPOSIT")
	if err != nil {
		return err
	}

	RebalanceDeviation, err = getEnv("REBALANCE_DEVIATION")
	if err != nil {
		return err
	}

	MaxPositions, err = getEnvAsUint64("MAX_POSITIONS")
	if err != nil {
		return err
	}

	PlatformFeeRate, err = getEnv("PLATFORM_FEE_RATE")
	if err != nil {
		return err
	}

	PerformanceFeeRate, err = getEnv("PERFORMANCE_FEE_RATE")
	if err != nil {
		return err
	}

	UpkeepFrequencySeconds, err = getEnvAsUint64("UPKEEP_FREQUENCY_SECONDS")
	if err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("CellarName", CellarName).
		Str("CellarAddress", CellarAddress).
		Uint64("EngineCycleSeconds", EngineCycleSeconds).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if not set or invalid.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}
