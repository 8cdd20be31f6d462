package config

import (
	"time"
)

// ServerConfig configures the HTTP decide API server.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// HTTP timeouts. ReadTimeout covers the full request read including body;
	// WriteTimeout bounds slow clients on the response side.
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// MaxBodyBytes limits the size of decide request payloads.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1024"`
}

// Validate performs validation on the ServerConfig.
func (c *ServerConfig) Validate() error {
	if err := validatePort(c.Port, "decide server"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "decide server"); err != nil {
		return err
	}

	return nil
}
