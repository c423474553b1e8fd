// pkg/registry/schema.go
package registry

import "encoding/json"

// ConfigRegistry is the on-disk layout of a file of extraction configs.
type ConfigRegistry struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Configs     []Entry `json:"configs"`
}

type Entry struct {
	TemplateID  string          `json:"templateId"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config"`
}
