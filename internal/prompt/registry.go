// Package prompt holds the default instruction set for every pipeline stage
// and supports overriding it from YAML files on disk, with optional hot
// reload. Stage instructions are system prompts; the statement under
// transformation always travels as a separate user message, so a replaced
// instruction can never swallow the input.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Stage keys. These are the names the pipeline, the configuration file and
// the prompt files all agree on.
const (
	StageValidation          = "validation"
	StageDecomposition       = "decomposition"
	StageConditionExtraction = "condition_extraction"
	StageScheduleExtraction  = "schedule_extraction"
	StageRuleConversion      = "rule_conversion"
	StageUnifiedRule         = "unified_rule"
	StageActionExtraction    = "action_extraction"
)

// StageOrder lists the stage keys in pipeline execution order.
var StageOrder = []string{
	StageValidation,
	StageDecomposition,
	StageConditionExtraction,
	StageScheduleExtraction,
	StageRuleConversion,
	StageUnifiedRule,
	StageActionExtraction,
}

// ErrMissingTemplate reports a stage with no registered instruction. This is
// a configuration error: fatal at the point of use, never retried.
type ErrMissingTemplate struct {
	Stage string
}

func (e *ErrMissingTemplate) Error() string {
	return fmt.Sprintf("prompt: no template registered for stage %q", e.Stage)
}

// Registry maps stage keys to their active instruction text.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]string
	logger  *zap.Logger
}

// NewRegistry returns a registry seeded with the built-in defaults.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	prompts := make(map[string]string, len(defaultPrompts))
	for stage, text := range defaultPrompts {
		prompts[stage] = text
	}
	return &Registry{prompts: prompts, logger: logger}
}

// Get returns the instruction for a stage.
func (r *Registry) Get(stage string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	text, ok := r.prompts[stage]
	if !ok || text == "" {
		return "", &ErrMissingTemplate{Stage: stage}
	}
	return text, nil
}

// Set replaces the instruction for a stage.
func (r *Registry) Set(stage, text string) {
	r.mu.Lock()
	r.prompts[stage] = text
	r.mu.Unlock()
}

// promptFile is the on-disk override format.
type promptFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// LoadDir reads every *.yaml/*.yml file in dir and applies its prompt
// overrides. Unknown stage keys are logged and skipped; a missing directory
// is not an error (defaults stay active).
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("prompt: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("prompt: read %s: %w", path, err)
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("prompt: parse %s: %w", path, err)
	}

	for stage, text := range pf.Prompts {
		if _, known := defaultPrompts[stage]; !known {
			r.logger.Warn("ignoring prompt override for unknown stage",
				zap.String("file", path), zap.String("stage", stage))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		r.Set(stage, text)
		r.logger.Info("prompt override loaded",
			zap.String("stage", stage), zap.String("file", path))
	}
	return nil
}
