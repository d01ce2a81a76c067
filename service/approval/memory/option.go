package memory

import (
	qmem "github.com/modal-labs/conveyor/service/messaging/memory"
)

type Option func(*service)

// WithQueueConfig overrides the event queue configuration, e.g. to enlarge
// the buffer when many requests may pile up before a consumer attaches.
func WithQueueConfig(config qmem.Config) Option {
	return func(s *service) { s.queueConfig = config }
}
