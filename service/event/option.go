package event

import (
	"github.com/modal-labs/conveyor/service/messaging/fs"
	"github.com/modal-labs/conveyor/service/messaging/memory"
)

type Option func(*Service)

// WithNewFsQueueConfig overrides how per-type filesystem queue configs are derived.
func WithNewFsQueueConfig(f func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = f
	}
}

// WithNewMemoryQueueConfig overrides how per-type memory queue configs are derived.
func WithNewMemoryQueueConfig(f func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memNewQueueConfig = f
	}
}
