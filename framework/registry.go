package framework

import (
	"strings"

	"github.com/c360studio/nimbus/job"
)

// registry is the static ordered list of known frameworks. Detection
// priority is insertion order.
var registry = []*Definition{
	nextDefinition(),
	astroDefinition(),
	viteDefinition(),
}

// Registry returns the ordered framework definitions.
func Registry() []*Definition {
	return registry
}

// Lookup returns the definition with the given id, or nil.
func Lookup(id string) *Definition {
	for _, def := range registry {
		if def.ID == id {
			return def
		}
	}
	return nil
}

// Resolution is the outcome of framework and target resolution for a
// generated tree. Framework is nil for plain static sites.
type Resolution struct {
	Framework *Definition
	Target    Target
	Config    Config
}

// FrameworkID returns the resolved framework id, or "static".
func (r Resolution) FrameworkID() string {
	if r.Framework == nil {
		return "static"
	}
	return r.Framework.ID
}

// Resolve identifies the framework and target for a generated tree.
// An explicit nimbus.config.json framework wins over detection; otherwise
// the first matching detector in registry order wins; otherwise the tree is
// a plain static site. Target precedence: explicit config.target when the
// framework supports it, then an SSR-vs-static hint in the prompt when the
// framework supports both, then the framework default.
func Resolve(fs *FileSet, prompt string) Resolution {
	cfg := ReadConfig(fs)

	var def *Definition
	if cfg.Framework != "" && cfg.Framework != "static" {
		def = Lookup(cfg.Framework)
	}
	if def == nil && cfg.Framework == "" {
		for _, candidate := range registry {
			if candidate.Detect(fs) {
				def = candidate
				break
			}
		}
	}

	if def == nil {
		return Resolution{Target: TargetStatic, Config: Config{
			Framework: "static",
			Target:    TargetStatic,
			AssetsDir: cfg.AssetsDir,
		}}
	}

	target := def.DefaultTarget
	if t, ok := hintTarget(strings.ToLower(prompt), def); ok {
		target = t
	}
	if cfg.Target != "" && def.Supports(cfg.Target) {
		target = cfg.Target
	}

	out := def.OutputsByTarget[target]
	resolved := Config{
		Framework:   def.ID,
		Target:      target,
		AssetsDir:   out.AssetsDir,
		WorkerEntry: out.WorkerEntry,
	}
	if cfg.AssetsDir != "" {
		resolved.AssetsDir = cfg.AssetsDir
	}
	if cfg.WorkerEntry != "" {
		resolved.WorkerEntry = cfg.WorkerEntry
	}

	return Resolution{Framework: def, Target: target, Config: resolved}
}

// Normalize resolves the framework and target for the generated files
// (consulting the user prompt for SSR-vs-static hints), enforces the
// dependencies and config files the build needs, and records the canonical
// nimbus.config.json. It is idempotent: normalizing its own output produces
// byte-identical files, because the first pass pins the target in the
// written config.
func Normalize(files []job.GeneratedFile, prompt string) ([]job.GeneratedFile, Resolution) {
	fs := NewFileSet(files)
	res := Resolve(fs, prompt)

	if def := res.Framework; def != nil {
		mergeDependencies(fs, def.Dependencies, def.DevDependencies)
		if def.Normalize != nil {
			def.Normalize(fs, res.Target)
		}
	}

	WriteConfig(fs, res.Config)

	return fs.Files(), res
}
