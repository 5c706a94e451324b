package sql

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const defaultPingTimeout = time.Second

// DatabaseConfig is the database section of config.yaml, durations are
// written the way time.ParseDuration reads them.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	DatabaseName string `mapstructure:"database_name"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`

	// sqlite only: how long a writer waits for a locked database
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

func decodeDatabaseConfig(raw map[string]any) (*DatabaseConfig, error) {
	conf := &DatabaseConfig{PingTimeout: defaultPingTimeout}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, newStorageErrorWithError(err, "invalid database configuration")
	}
	return conf, nil
}

// dbSystem is the semantic convention name reported on the database spans.
func (c *DatabaseConfig) dbSystem() (string, error) {
	switch c.Driver {
	case SQLITE_DRIVER:
		return "sqlite", nil
	case POSTGRES_DRIVER:
		return "postgresql", nil
	default:
		return "", getUnsupportedDriverError(c.Driver)
	}
}
