package profile

import (
	"fmt"

	"termlink/config"
	"termlink/util"
)

// Open returns the store selected by cfg.ProfileBackend.
func Open(cfg *config.Config, logger *util.Logger) (Store, error) {
	switch cfg.ProfileBackend {
	case config.BackendFile:
		return NewFileStore(cfg.ProfileDir, logger)
	case config.BackendSQLite:
		return OpenSQLite(cfg.ProfileDB, logger)
	default:
		return nil, fmt.Errorf("unknown profile backend %q", cfg.ProfileBackend)
	}
}
