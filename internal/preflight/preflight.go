package preflight

import (
	"folio/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local environment checks for the given config: the
// working directories and the provider credential. It never touches the
// network; CheckProvider is the explicit connectivity probe.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	return []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Images directory", cfg.Paths.ImagesDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckProviderKey(cfg.Inference),
	}
}
