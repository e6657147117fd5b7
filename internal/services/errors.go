package services

import (
	"errors"
	"fmt"

	"github.com/imyashkale/mcphost/internal/repository"
)

var (
	// ErrInvalidConfig marks a registration rejected before any side effect
	ErrInvalidConfig = errors.New("invalid server configuration")
	// ErrDuplicateName is returned when the name is already registered
	ErrDuplicateName = fmt.Errorf("server name taken: %w", repository.ErrAlreadyExists)
	// ErrServerNotFound is returned for unknown server IDs
	ErrServerNotFound = fmt.Errorf("server not found: %w", repository.ErrNotFound)
	// ErrNotRunning is returned when an operation needs a live server
	ErrNotRunning = errors.New("server is not running")
	// ErrShuttingDown is returned by starts attempted after Stop
	ErrShuttingDown = errors.New("manager is shutting down")
)

// ConfigError describes a single invalid registration field
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func duplicateName(name string) error {
	return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrDuplicateName, name)
}

func serverNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrServerNotFound, id)
}

func notRunning(name string) error {
	return fmt.Errorf("%w: %s", ErrNotRunning, name)
}
