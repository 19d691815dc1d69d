package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaults(t *testing.T) {
	reg := NewRegistry(nil)

	for _, stage := range []string{
		StageValidation, StageDecomposition, StageConditionExtraction,
		StageScheduleExtraction, StageRuleConversion, StageUnifiedRule,
		StageActionExtraction,
	} {
		text, err := reg.Get(stage)
		require.NoError(t, err, stage)
		assert.NotEmpty(t, text, stage)
	}
}

func TestRegistryMissingTemplate(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Get("no_such_stage")

	var missing *ErrMissingTemplate
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "no_such_stage", missing.Stage)
}

func TestLoadDirOverrides(t *testing.T) {
	dir := t.TempDir()
	override := `prompts:
  decomposition: "Custom decomposition instruction."
  unknown_stage: "ignored"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts.yaml"), []byte(override), 0o644))

	reg := NewRegistry(nil)
	require.NoError(t, reg.LoadDir(dir))

	text, err := reg.Get(StageDecomposition)
	require.NoError(t, err)
	assert.Equal(t, "Custom decomposition instruction.", text)

	// Untouched stages keep their defaults.
	text, err = reg.Get(StageValidation)
	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[StageValidation], text)
}

func TestLoadDirMissingDirIsNotError(t *testing.T) {
	reg := NewRegistry(nil)
	assert.NoError(t, reg.LoadDir(filepath.Join(t.TempDir(), "absent")))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)

	watcher, err := NewWatcher(dir, reg, nil)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	override := `prompts:
  validation: "Reloaded validation instruction."
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(override), 0o644))

	require.Eventually(t, func() bool {
		text, err := reg.Get(StageValidation)
		return err == nil && text == "Reloaded validation instruction."
	}, 3*time.Second, 50*time.Millisecond)
}
