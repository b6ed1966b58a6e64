package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// mappingsOverlay is the optional .boardsync/mappings.yaml file. It lets a
// project override or extend the pipeline and field maps without touching
// config.json, useful when a board admin renames a column or when a Jira
// instance moves a custom field.
//
// Example:
//
//	pipelines:
//	  review_qa: "Z2lkOi8vcmF3L1BpcGVsaW5lLzEyMw"
//	fields:
//	  estimate: customfield_10016
type mappingsOverlay struct {
	Pipelines map[string]string `yaml:"pipelines"`
	Fields    map[string]string `yaml:"fields"`
}

// applyMappingsOverlay merges mappings.yaml into the config when present.
// Overlay entries win over config.json entries.
func applyMappingsOverlay(cfg *BoardConfig, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path derived from projectPath
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading mappings overlay: %w", err)
	}

	var overlay mappingsOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for state, id := range overlay.Pipelines {
		if id != "" {
			cfg.PipelineMap[state] = id
		}
	}
	for field, id := range overlay.Fields {
		if id != "" {
			cfg.FieldMap[field] = id
		}
	}
	return nil
}
