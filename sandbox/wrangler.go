package sandbox

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// compatibilityDate pins the workers runtime feature set for deploys.
const compatibilityDate = "2025-04-01"

// wranglerConfig is the edge-worker deployment descriptor serialized as
// TOML into the sandbox.
type wranglerConfig struct {
	Name               string          `toml:"name"`
	Main               string          `toml:"main,omitempty"`
	CompatibilityDate  string          `toml:"compatibility_date"`
	CompatibilityFlags []string        `toml:"compatibility_flags,omitempty"`
	Assets             *wranglerAssets `toml:"assets,omitempty"`
}

type wranglerAssets struct {
	Directory string `toml:"directory"`
	Binding   string `toml:"binding,omitempty"`
}

// marshalWrangler renders the descriptor.
func marshalWrangler(cfg wranglerConfig) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal wrangler config: %w", err)
	}
	return data, nil
}

// openNextWrangler is the descriptor for Next-on-workers builds, written
// before the build so the OpenNext packaging step can read it.
func openNextWrangler(workerName string) wranglerConfig {
	return wranglerConfig{
		Name:               workerName,
		Main:               ".open-next/worker.js",
		CompatibilityDate:  compatibilityDate,
		CompatibilityFlags: []string{"nodejs_compat"},
		Assets: &wranglerAssets{
			Directory: ".open-next/assets",
			Binding:   "ASSETS",
		},
	}
}
