package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func seedWorkdir(t *testing.T, files map[string]string) string {
	t.Helper()
	workdir := t.TempDir()
	for name, content := range files {
		location := filepath.Join(workdir, name)
		if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(location, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return workdir
}

const demoManifest = "[package]\nname = \"demo\"\n"

func TestService_SaveAndRestore(t *testing.T) {
	ctx := context.Background()
	svc := New(WithRootURL(t.TempDir()))

	workdir := seedWorkdir(t, map[string]string{
		"Cargo.toml":       demoManifest,
		"target/debug/app": "binary",
	})

	saveOutput := &SaveOutput{}
	err := svc.Save(ctx, &SaveInput{Key: "cargo-abc", Path: "target", Workdir: workdir}, saveOutput)
	assert.NoError(t, err)
	assert.True(t, saveOutput.Saved)
	assert.EqualValues(t, "cargo-abc", saveOutput.Key)

	// Saving the same key again is a no-op.
	again := &SaveOutput{}
	err = svc.Save(ctx, &SaveInput{Key: "cargo-abc", Path: "target", Workdir: workdir}, again)
	assert.NoError(t, err)
	assert.False(t, again.Saved)

	restoredTo := seedWorkdir(t, map[string]string{"Cargo.toml": demoManifest})
	restoreOutput := &RestoreOutput{}
	err = svc.Restore(ctx, &RestoreInput{Key: "cargo-abc", Path: "target", Workdir: restoredTo}, restoreOutput)
	assert.NoError(t, err)
	assert.True(t, restoreOutput.CacheHit)
	assert.False(t, restoreOutput.Partial)
	assert.EqualValues(t, "cargo-abc", restoreOutput.Key)

	data, err := os.ReadFile(filepath.Join(restoredTo, "target", "debug", "app"))
	assert.NoError(t, err)
	assert.EqualValues(t, "binary", string(data))
}

func TestService_RestoreKeyPrefix(t *testing.T) {
	ctx := context.Background()
	svc := New(WithRootURL(t.TempDir()))

	workdir := seedWorkdir(t, map[string]string{
		"Cargo.toml":   demoManifest,
		"target/lib.a": "archive",
	})
	err := svc.Save(ctx, &SaveInput{Key: "cargo-old", Path: "target", Workdir: workdir}, &SaveOutput{})
	assert.NoError(t, err)

	restoredTo := seedWorkdir(t, map[string]string{"Cargo.toml": demoManifest})
	output := &RestoreOutput{}
	err = svc.Restore(ctx, &RestoreInput{
		Key:         "cargo-new",
		RestoreKeys: []string{"cargo-"},
		Path:        "target",
		Workdir:     restoredTo,
	}, output)
	assert.NoError(t, err)
	assert.False(t, output.CacheHit)
	assert.True(t, output.Partial)
	assert.EqualValues(t, "cargo-old", output.Key)
}

func TestService_RestoreMiss(t *testing.T) {
	ctx := context.Background()
	svc := New(WithRootURL(t.TempDir()))

	output := &RestoreOutput{}
	err := svc.Restore(ctx, &RestoreInput{Key: "cargo-none", Path: "target", Workdir: t.TempDir()}, output)
	assert.NoError(t, err)
	assert.False(t, output.CacheHit)
	assert.Empty(t, output.Key)
}

func TestHashFilesFunc(t *testing.T) {
	workdir := seedWorkdir(t, map[string]string{"Cargo.lock": "v1"})
	hashFiles := HashFilesFunc(workdir)

	first, err := hashFiles("Cargo.lock")
	assert.NoError(t, err)
	assert.NotEmpty(t, first)

	repeat, err := hashFiles("Cargo.lock")
	assert.NoError(t, err)
	assert.EqualValues(t, first, repeat)

	// Content changes change the digest.
	assert.NoError(t, os.WriteFile(filepath.Join(workdir, "Cargo.lock"), []byte("v2"), 0o644))
	changed, err := hashFiles("Cargo.lock")
	assert.NoError(t, err)
	assert.NotEqual(t, first, changed)

	// No match yields an empty string, not an error.
	missing, err := hashFiles("Cargo.toml")
	assert.NoError(t, err)
	assert.EqualValues(t, "", missing)
}

func TestResolveScope(t *testing.T) {
	svc := New(WithRootURL(t.TempDir()))
	ctx := context.Background()

	assert.EqualValues(t, "explicit", svc.resolveScope(ctx, "explicit", ""))
	assert.EqualValues(t, defaultScope, svc.resolveScope(ctx, "", ""))

	workdir := seedWorkdir(t, map[string]string{"Cargo.toml": demoManifest})
	assert.EqualValues(t, "demo", svc.resolveScope(ctx, "", workdir))

	project := seedWorkdir(t, map[string]string{"conveyor.toml": "[project]\nname = \"pipeline\"\n"})
	assert.EqualValues(t, "pipeline", svc.resolveScope(ctx, "", project))
}
