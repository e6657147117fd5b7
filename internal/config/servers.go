package config

import (
	"fmt"
	"os"

	"github.com/imyashkale/mcphost/internal/models"
	"gopkg.in/yaml.v2"
)

// ServersFile is the declarative list of servers registered at startup
type ServersFile struct {
	Servers []models.RegisterServerRequest `yaml:"servers"`
}

// LoadServers reads and validates a servers file. Environment variables in
// the form ${VAR} are expanded before parsing.
func LoadServers(path string) ([]models.RegisterServerRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading servers file: %w", err)
	}

	var file ServersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parsing servers file: %w", err)
	}

	seen := make(map[string]bool, len(file.Servers))
	for i := range file.Servers {
		srv := &file.Servers[i]
		if srv.Name == "" {
			return nil, fmt.Errorf("servers[%d]: name is required", i)
		}
		if seen[srv.Name] {
			return nil, fmt.Errorf("servers[%d]: duplicate name %q", i, srv.Name)
		}
		seen[srv.Name] = true

		if !srv.ServerType.Valid() {
			return nil, fmt.Errorf("server %q: server_type must be local or remote (got %q)", srv.Name, srv.ServerType)
		}
		srv.Config = models.ServerConfig(normalizeYAML(map[string]interface{}(srv.Config)).(map[string]interface{}))
	}

	return file.Servers, nil
}

// normalizeYAML converts the map[interface{}]interface{} values produced by
// yaml.v2 into JSON-compatible maps
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeValue(item)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = normalizeValue(item)
		}
		return m
	}
	return v
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}, map[string]interface{}:
		return normalizeYAML(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}
