package gateway

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"positionengine/src/security"
)

type Config struct {
	PaperMode   bool    `envconfig:"GATEWAY_PAPER_MODE" default:"true"`
	PaperEquity float64 `envconfig:"GATEWAY_PAPER_EQUITY" default:"10000"`

	APIKey    string `envconfig:"GATEWAY_API_KEY" default:""`
	APISecret string `envconfig:"GATEWAY_API_SECRET" default:""`
	BaseURL   string `envconfig:"GATEWAY_BASE_URL" default:"https://testnet.binancefuture.com"`

	// Encrypted credentials take precedence over the plaintext ones when set.
	APIKeyEncrypted    string `envconfig:"GATEWAY_API_KEY_ENC" default:""`
	APISecretEncrypted string `envconfig:"GATEWAY_API_SECRET_ENC" default:""`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Credentials resolves the exchange API key pair, decrypting the encrypted
// variants when they are set.
func (c Config) Credentials() (string, string, error) {
	key, secret := c.APIKey, c.APISecret

	if c.APIKeyEncrypted != "" {
		decrypted, err := security.DecryptString(c.APIKeyEncrypted)
		if err != nil {
			return "", "", fmt.Errorf("decrypt api key: %w", err)
		}
		key = decrypted
	}
	if c.APISecretEncrypted != "" {
		decrypted, err := security.DecryptString(c.APISecretEncrypted)
		if err != nil {
			return "", "", fmt.Errorf("decrypt api secret: %w", err)
		}
		secret = decrypted
	}

	if key == "" || secret == "" {
		return "", "", fmt.Errorf("exchange credentials are not configured")
	}
	return key, secret, nil
}
