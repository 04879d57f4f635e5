package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultModels = "gpt-4=1.2,gpt-3.5-turbo=0.8"

// Model is one entry of the closed set of analysis models a client may request.
// CostSeconds is the expected per-job latency used for wait estimates.
type Model struct {
	Name        string  `yaml:"name"`
	CostSeconds float64 `yaml:"cost_seconds"`
}

// ModelCatalog is the ordered set of allowed models.
type ModelCatalog []Model

// Cost returns the per-job cost for name and whether the model is allowed.
func (c ModelCatalog) Cost(name string) (float64, bool) {
	for _, m := range c {
		if m.Name == name {
			return m.CostSeconds, true
		}
	}
	return 0, false
}

// Names returns the model names in configuration order.
func (c ModelCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for _, m := range c {
		names = append(names, m.Name)
	}
	return names
}

type modelsFile struct {
	Models []Model `yaml:"models"`
}

// loadModels reads ANALYSIS_MODELS_FILE when set, otherwise ANALYSIS_MODELS.
func loadModels() (ModelCatalog, error) {
	if path := os.Getenv("ANALYSIS_MODELS_FILE"); path != "" {
		return LoadModelsFile(path)
	}
	return ParseModels(envString("ANALYSIS_MODELS", defaultModels))
}

// LoadModelsFile parses a YAML model catalog:
//
//	models:
//	  - name: gpt-4
//	    cost_seconds: 1.2
func LoadModelsFile(path string) (ModelCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ANALYSIS_MODELS_FILE: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ANALYSIS_MODELS_FILE: %w", err)
	}
	return checkCatalog(f.Models)
}

// ParseModels parses a comma-separated list of name=cost pairs.
func ParseModels(list string) (ModelCatalog, error) {
	var models []Model
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, cost, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("ANALYSIS_MODELS entry %q must be name=cost", part)
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(cost), 64)
		if err != nil {
			return nil, fmt.Errorf("ANALYSIS_MODELS entry %q has invalid cost: %w", part, err)
		}
		models = append(models, Model{Name: strings.TrimSpace(name), CostSeconds: c})
	}
	return checkCatalog(models)
}

func checkCatalog(models []Model) (ModelCatalog, error) {
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if m.Name == "" {
			return nil, fmt.Errorf("model name must not be empty")
		}
		if m.CostSeconds <= 0 {
			return nil, fmt.Errorf("model %q cost must be positive", m.Name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("model %q listed twice", m.Name)
		}
		seen[m.Name] = true
	}
	return ModelCatalog(models), nil
}
