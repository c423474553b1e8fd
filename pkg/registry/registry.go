// pkg/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"document-eligibility/internal/engine/model"

	apperrors "document-eligibility/internal/common/errors"
)

// Registry serves prepared configurations loaded from a JSON file.
type Registry struct {
	version string
	configs map[string]*model.ExtractionConfig
}

func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and prepares every entry. All invalid entries are reported
// together.
func Parse(data []byte) (*Registry, error) {
	var reg ConfigRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}

	r := &Registry{
		version: reg.Version,
		configs: make(map[string]*model.ExtractionConfig, len(reg.Configs)),
	}
	var problems []string
	for i, entry := range reg.Configs {
		if entry.TemplateID == "" {
			problems = append(problems, fmt.Sprintf("configs[%d]: missing templateId", i))
			continue
		}
		if _, dup := r.configs[entry.TemplateID]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate templateId", entry.TemplateID))
			continue
		}
		cfg, err := model.Parse(entry.Config)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", entry.TemplateID, err))
			continue
		}
		r.configs[entry.TemplateID] = cfg
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid registry: %s", strings.Join(problems, "; "))
	}
	return r, nil
}

func (r *Registry) Get(_ context.Context, templateID string) (*model.ExtractionConfig, error) {
	cfg, ok := r.configs[templateID]
	if !ok {
		return nil, apperrors.NewConfigNotFoundError(templateID)
	}
	return cfg, nil
}

// Templates lists the template ids in sorted order.
func (r *Registry) Templates() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Version() string { return r.version }
