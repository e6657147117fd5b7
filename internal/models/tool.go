package models

import "time"

// ToolSchema is the canonical description of a callable tool
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolRecord is one cached tool of a server from its last discovery pass
type ToolRecord struct {
	Id          int64
	ServerId    string
	ToolName    string
	Description string
	Parameters  map[string]interface{}
	Schema      map[string]interface{}
	CreatedAt   time.Time
}

// ToolRecordFromSchema builds a cache entry for serverId. Schema holds the
// function-calling document derived from the tool.
func ToolRecordFromSchema(serverId string, t ToolSchema) ToolRecord {
	params := t.Parameters
	if params == nil {
		params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return ToolRecord{
		ServerId:    serverId,
		ToolName:    t.Name,
		Description: t.Description,
		Parameters:  params,
		Schema: map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

// ToSchema converts a cached tool back to its canonical form
func (r ToolRecord) ToSchema() ToolSchema {
	return ToolSchema{
		Name:        r.ToolName,
		Description: r.Description,
		Parameters:  r.Parameters,
	}
}
