// Construction/shutdown sequencing for a full runtime: logger, then the
// IOManager (which in turn owns the scheduler and the timer manager).

package loom_internal

import "fmt"

type Runtime struct {
	Config    *RuntimeConfig
	IOManager *IOManager
}

// NewRuntime loads cfgFile (empty for built-in defaults), wires the logger,
// and starts an IOManager-backed scheduler. Construction order matters:
// logging must be configured before anything else can usefully log.
func NewRuntime(cfgFile string) (*Runtime, error) {
	cfg, err := LoadConfig(cfgFile, nil)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	if err := SetLogger(cfg.LoggerConfig); err != nil {
		return nil, fmt.Errorf("runtime: logger: %w", err)
	}
	iom, err := NewIOManager(cfg.IOManagerConfig, "runtime")
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return &Runtime{Config: cfg, IOManager: iom}, nil
}

// Shutdown tears down in the reverse of construction order: the IOManager
// (and with it the scheduler and poller) first; the logger has no teardown
// of its own.
func (rt *Runtime) Shutdown() error {
	return rt.IOManager.Close()
}
