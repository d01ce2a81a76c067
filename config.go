package conveyor

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"

	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/service/allocator"
	"github.com/modal-labs/conveyor/service/meta"
	"github.com/modal-labs/conveyor/service/processor"
)

// Config is a serialisable representation of the engine configuration. The
// zero value is usable: nested sections inherit their package defaults.
type Config struct {
	Processor ProcessorConfig `json:"processor" yaml:"processor" toml:"processor"`
	Allocator AllocatorConfig `json:"allocator" yaml:"allocator" toml:"allocator"`
	Queue     QueueConfig     `json:"queue" yaml:"queue" toml:"queue"`
	Events    EventsConfig    `json:"events" yaml:"events" toml:"events"`
	Runs      RunsConfig      `json:"runs" yaml:"runs" toml:"runs"`
	Workspace WorkspaceConfig `json:"workspace" yaml:"workspace" toml:"workspace"`
	Cache     StoreConfig     `json:"cache" yaml:"cache" toml:"cache"`
	Artifacts StoreConfig     `json:"artifacts" yaml:"artifacts" toml:"artifacts"`
	Policy    *policy.Config  `json:"policy,omitempty" yaml:"policy,omitempty" toml:"policy"`
}

// ProcessorConfig sizes the job worker pool.
type ProcessorConfig struct {
	WorkerCount int `json:"workers" yaml:"workers" toml:"workers"`
}

// AllocatorConfig tunes how often runs are scanned for schedulable jobs.
type AllocatorConfig struct {
	PollIntervalMs int `json:"pollIntervalMs" yaml:"pollIntervalMs" toml:"pollIntervalMs"`
}

// PollInterval returns the configured allocator poll interval as a duration.
func (a AllocatorConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// QueueConfig selects the job queue implementation. The fs vendor leaves an
// inspectable on-disk trail and survives restarts; memory is the default.
type QueueConfig struct {
	Vendor   string `json:"vendor" yaml:"vendor" toml:"vendor"`
	BasePath string `json:"basePath,omitempty" yaml:"basePath,omitempty" toml:"basePath"`
}

// EventsConfig selects the queue vendor backing run lifecycle events.
type EventsConfig struct {
	Vendor string `json:"vendor" yaml:"vendor" toml:"vendor"`
}

// RunsConfig selects the run store. An empty BaseURL keeps run records in
// memory; any afs URL persists them as JSON documents.
type RunsConfig struct {
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty" toml:"baseURL"`
}

// WorkspaceConfig is where checkout steps materialise working copies.
type WorkspaceConfig struct {
	Root string `json:"root,omitempty" yaml:"root,omitempty" toml:"root"`
}

// StoreConfig points the cache or artifact store at an afs base URL.
type StoreConfig struct {
	RootURL string `json:"rootURL,omitempty" yaml:"rootURL,omitempty" toml:"rootURL"`
}

// DefaultConfig returns the configuration applied when New is called without
// WithConfig. Callers may modify the returned struct before passing it back
// via WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{
			WorkerCount: processor.DefaultConfig().WorkerCount,
		},
		Allocator: AllocatorConfig{
			PollIntervalMs: int(allocator.DefaultConfig().PollingInterval / time.Millisecond),
		},
		Queue:  QueueConfig{Vendor: "memory"},
		Events: EventsConfig{Vendor: "memory"},
	}
}

// LoadConfig reads an engine configuration document from any afs-supported
// location, layering it over DefaultConfig. The decoder follows the file
// extension; the conventional name is conveyor.toml.
func LoadConfig(ctx context.Context, location string) (*Config, error) {
	config := DefaultConfig()
	if err := meta.New(afs.New(), "").Load(ctx, location, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", location, err)
	}
	return config, nil
}

// Validate returns an error describing the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.WorkerCount <= 0 {
		return fmt.Errorf("processor.workers must be > 0")
	}
	if c.Allocator.PollIntervalMs <= 0 {
		return fmt.Errorf("allocator.pollIntervalMs must be > 0")
	}
	if err := validateVendor("queue.vendor", c.Queue.Vendor); err != nil {
		return err
	}
	if err := validateVendor("events.vendor", c.Events.Vendor); err != nil {
		return err
	}
	if c.Policy != nil {
		switch c.Policy.Mode {
		case "", policy.ModeAuto, policy.ModeAsk, policy.ModeDeny:
		default:
			return fmt.Errorf("policy.mode must be auto, ask or deny; got %q", c.Policy.Mode)
		}
	}
	return nil
}

func validateVendor(field, vendor string) error {
	switch vendor {
	case "", "memory", "fs":
		return nil
	}
	return fmt.Errorf("%s must be memory or fs; got %q", field, vendor)
}
