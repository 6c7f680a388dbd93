package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CredentialsKey is the base64-encoded 32-byte secretbox key used to
	// encrypt exchange API credentials at rest. Empty disables decryption.
	CredentialsKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY" default:""`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
