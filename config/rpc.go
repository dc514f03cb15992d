package config

import "errors"

// RPCConfig holds RPC configuration params.
type RPCConfig struct {
	ListenAddress string `mapstructure:"laddr"`

	// Cross Origin Resource Sharing settings
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`
}

// IsCorsEnabled returns true if cross-origin requests are allowed from any origin.
func (cfg RPCConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

// ValidateBasic performs basic validation.
func (cfg RPCConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	return nil
}
