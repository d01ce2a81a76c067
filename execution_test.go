package conveyor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/event"
)

// TestService_Defaults verifies that New wires every collaborator without
// explicit options.
func TestService_Defaults(t *testing.T) {
	svc := New()
	require.NotNil(t, svc.Runtime())
	assert.NotNil(t, svc.queue)
	assert.NotNil(t, svc.eventService)
	assert.NotNil(t, svc.executor)
	assert.NotNil(t, svc.runtime.runDAO)
	assert.NotNil(t, svc.runtime.workflowDAO)
	assert.NotNil(t, svc.runtime.processor)
	assert.NotNil(t, svc.runtime.allocator)
	assert.NotNil(t, svc.runtime.workflowService)

	for _, name := range []string{
		"system/exec", "checkout", "toolchain", "cache",
		"artifact", "secret", "printer", "nop", "workflow",
	} {
		assert.NotNilf(t, svc.actions.Lookup(name), "action %v not registered", name)
	}
}

// TestService_NewContext verifies the context carries the collaborators
// consulted during step execution.
func TestService_NewContext(t *testing.T) {
	svc := New(WithPolicy(&policy.Policy{Mode: policy.ModeAuto}))
	ctx := svc.NewContext(context.Background())
	assert.NotNil(t, execution.ContextValue[*event.Service](ctx))
	require.NotNil(t, policy.FromContext(ctx))
	assert.Equal(t, policy.ModeAuto, policy.FromContext(ctx).Mode)
}

func TestLoadConfig(t *testing.T) {
	location := filepath.Join(t.TempDir(), "conveyor.toml")
	body := `
[processor]
workers = 3

[queue]
vendor = "fs"
basePath = "/tmp/conveyor-test/queue"

[policy]
mode = "deny"
block = ["rm"]
`
	require.NoError(t, os.WriteFile(location, []byte(body), 0o644))

	config, err := LoadConfig(context.Background(), location)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Processor.WorkerCount)
	assert.Equal(t, "fs", config.Queue.Vendor)
	assert.Equal(t, "/tmp/conveyor-test/queue", config.Queue.BasePath)
	require.NotNil(t, config.Policy)
	assert.Equal(t, policy.ModeDeny, config.Policy.Mode)
	assert.Equal(t, []string{"rm"}, config.Policy.BlockList)
	// sections absent from the document keep their defaults
	assert.Equal(t, DefaultConfig().Allocator.PollIntervalMs, config.Allocator.PollIntervalMs)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.Processor.WorkerCount = 0 }, wantErr: true},
		{name: "unknown queue vendor", mutate: func(c *Config) { c.Queue.Vendor = "kafka" }, wantErr: true},
		{name: "unknown policy mode", mutate: func(c *Config) { c.Policy = &policy.Config{Mode: "maybe"} }, wantErr: true},
		{name: "fs vendors", mutate: func(c *Config) { c.Queue.Vendor = "fs"; c.Events.Vendor = "fs" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)
			err := config.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
