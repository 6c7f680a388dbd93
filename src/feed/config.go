package feed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteCurrency string        `envconfig:"FEED_QUOTE_CURRENCY" default:"USDT"`
	StreamURL     string        `envconfig:"FEED_STREAM_URL" default:"wss://fstream.binance.com/ws"`
	StaleAfter    time.Duration `envconfig:"FEED_STALE_AFTER" default:"30s"`
	DialTimeout   time.Duration `envconfig:"FEED_DIAL_TIMEOUT" default:"15s"`
	ReconnectWait time.Duration `envconfig:"FEED_RECONNECT_WAIT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
