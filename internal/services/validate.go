package services

import (
	"net/url"
	"strings"

	"github.com/imyashkale/mcphost/internal/models"
)

// validateRegistration checks the type-specific required fields
func validateRegistration(req *models.RegisterServerRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return &ConfigError{Field: "name", Reason: "is required"}
	}
	if !req.ServerType.Valid() {
		return &ConfigError{Field: "server_type", Reason: "must be local or remote"}
	}

	switch req.ServerType {
	case models.ServerTypeLocal:
		if req.Config.Command() == "" {
			return &ConfigError{Field: "config.command", Reason: "is required for local servers"}
		}
	case models.ServerTypeRemote:
		raw := req.Config.URL()
		if raw == "" {
			return &ConfigError{Field: "config.url", Reason: "is required for remote servers"}
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "config.url", Reason: "must be an absolute http or https URL"}
		}
	}

	if rl := req.ResourceLimits; rl != nil {
		if rl.MaxMemoryMB < 0 || rl.MaxCPUPercent < 0 || rl.MaxExecutionTimeSeconds < 0 {
			return &ConfigError{Field: "resource_limits", Reason: "must not be negative"}
		}
	}
	return nil
}
