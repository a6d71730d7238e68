package handlers

import "github.com/ternarybob/colligo/internal/common"

// ConfigProvider is the slice of the application the config handler needs:
// read the live configuration and swap in a reloaded one.
type ConfigProvider interface {
	// Config returns the currently effective configuration
	Config() *common.Config

	// ReloadConfig re-reads the config files and applies the reloadable
	// subset, returning the new effective configuration
	ReloadConfig() (*common.Config, error)
}

// SchedulerStatus is what the status handler needs from the scheduler
type SchedulerStatus interface {
	IsRunning() bool
}
