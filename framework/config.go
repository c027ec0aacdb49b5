package framework

import (
	"encoding/json"
)

// ConfigFile is the canonical per-project descriptor embedded in the
// generated tree.
const ConfigFile = "nimbus.config.json"

// Config is the nimbus.config.json payload. A missing or unparseable file
// reads as the zero value ("unspecified").
type Config struct {
	Framework   string `json:"framework,omitempty"`
	Target      Target `json:"target,omitempty"`
	AssetsDir   string `json:"assetsDir,omitempty"`
	WorkerEntry string `json:"workerEntry,omitempty"`
}

// ReadConfig parses nimbus.config.json from the file set. Missing or
// malformed files yield an unspecified config, never an error.
func ReadConfig(fs *FileSet) Config {
	content, ok := fs.Get(ConfigFile)
	if !ok {
		return Config{}
	}
	var cfg Config
	if err := json.Unmarshal([]byte(content), &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// WriteConfig serializes cfg into the file set as the canonical descriptor.
// The output is deterministic so normalization stays idempotent.
func WriteConfig(fs *FileSet, cfg Config) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return
	}
	fs.Put(ConfigFile, string(data)+"\n")
}
