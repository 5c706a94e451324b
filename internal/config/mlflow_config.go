package config

import (
	"crypto/tls"
	"time"
)

// MLFlowConfig points the tracker at an MLflow tracking server. Tracking is
// off while TrackingURI is empty.
type MLFlowConfig struct {
	TrackingURI string `mapstructure:"tracking_uri" validate:"omitempty,url"`
	Experiment  string `mapstructure:"experiment"`
	// added to every tracked run, run specific tags win
	Tags        map[string]string `mapstructure:"tags"`
	HTTPTimeout time.Duration     `mapstructure:"http_timeout" validate:"gte=0"`
	// retries of requests answered with 429 or a gateway error
	Retries int `mapstructure:"retries" validate:"gte=0,lte=10"`

	TokenPath          string      `mapstructure:"token_path"`
	CACertPath         string      `mapstructure:"ca_cert_path"`
	InsecureSkipVerify bool        `mapstructure:"insecure_skip_verify"`
	TLSConfig          *tls.Config `mapstructure:"-"` // set by tests only
}
