package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// WebPort is the port the JSON dashboard listens on.
	WebPort string

	// DBEnabled toggles the PostgreSQL accounting store. When false the
	// engine runs purely in memory.
	DBEnabled bool
	// DBHost is the PostgreSQL host.
	DBHost string
	// DBPort is the PostgreSQL port.
	DBPort int
	// DBUser is the PostgreSQL user.
	DBUser string
	// DBPassword is the PostgreSQL password.
	DBPassword string
	// DBName is the PostgreSQL database name.
	DBName string
	// DBSSLMode is the PostgreSQL sslmode setting.
	DBSSLMode string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	WebPort, err = getEnv("WEB_PORT")
	if err != nil {
		return err
	}

	DBEnabled, err = getEnvAsBool("DB_ENABLED")
	if err != nil {
		return err
	}
	if !DBEnabled {
		log.Debug().Str("WebPort", WebPort).Msg("Endpoint configuration loaded, database disabled.")
		return nil
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	log.Debug().
		Str("WebPort", WebPort).
		Str("DBHost", DBHost).
		Int("DBPort", DBPort).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
