package monitor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"MONITOR_LOOP_PERIOD" default:"10s"`

	// CloseRetryAttempts bounds how many ticks a failed close command is
	// retried before the operator is alerted and the intent abandoned.
	CloseRetryAttempts int `envconfig:"MONITOR_CLOSE_RETRY_ATTEMPTS" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
