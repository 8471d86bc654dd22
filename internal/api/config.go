// Package api provides the HTTP read API and run trigger for the ETL
// service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
)

const (
	defaultPort       = 8080
	maxPort           = 65535
	defaultHost       = "0.0.0.0"
	defaultTimeout    = 30 * time.Second
	defaultLogLevel   = slog.LevelInfo
	defaultCORSMaxAge = 86400
)

var (
	// ErrInvalidPort indicates the port number is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidTimeout indicates a zero or negative server timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")
)

type (
	// ServerConfig holds HTTP server configuration. Pure configuration,
	// no runtime dependencies.
	ServerConfig struct {
		Port               int
		Host               string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		LogLevel           slog.Level
		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig is the middleware-facing view of the CORS settings.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("ETL_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("ETL_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("ETL_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("ETL_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("ETL_SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("ETL_SERVER_LOG_LEVEL", defaultLogLevel),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("ETL_CORS_ALLOWED_ORIGINS", "*"),
		),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("ETL_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("ETL_CORS_ALLOWED_HEADERS", "Content-Type,X-Request-ID"),
		),
		CORSMaxAge: config.GetEnvInt("ETL_CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts the CORS fields to the middleware interface.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }

// GetMaxAge returns the preflight cache lifetime.
func (c *CORSConfig) GetMaxAge() int { return c.MaxAge }
