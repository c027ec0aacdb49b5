package framework

import (
	"encoding/json"
)

// mergeDependencies merges framework dependencies into package.json,
// preserving entries the model already chose. The manifest is rewritten
// with stable key order and a trailing newline; trees without a
// package.json skip dependency injection entirely.
func mergeDependencies(fs *FileSet, deps, devDeps map[string]string) {
	pkg := fs.packageJSON()
	if pkg == nil {
		return
	}

	mergeSection(pkg, "dependencies", deps)
	mergeSection(pkg, "devDependencies", devDeps)

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return
	}
	fs.Put("package.json", string(data)+"\n")
}

func mergeSection(pkg map[string]any, section string, add map[string]string) {
	if len(add) == 0 {
		return
	}
	existing, _ := pkg[section].(map[string]any)
	if existing == nil {
		existing = make(map[string]any, len(add))
	}
	for name, version := range add {
		if _, ok := existing[name]; !ok {
			existing[name] = version
		}
	}
	pkg[section] = existing
}
