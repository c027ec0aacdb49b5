// Package framework turns a bag of generated files into a deployable
// project: it identifies the target framework, enforces the files and
// dependencies the build needs, and records a canonical nimbus.config.json
// for the sandbox and deploy drivers.
package framework

import (
	"encoding/json"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/nimbus/job"
)

// Target is the deployment shape of a project.
type Target string

const (
	TargetStatic  Target = "static"
	TargetWorkers Target = "workers"
)

// Output describes where a framework's build artifacts land for a target.
type Output struct {
	AssetsDir   string
	WorkerEntry string
}

// Definition is an immutable in-registry framework description. Frameworks
// are modeled as values; registry priority is insertion order.
type Definition struct {
	ID               string
	DefaultTarget    Target
	SupportedTargets []Target

	// Dependencies merged into package.json during normalization.
	Dependencies    map[string]string
	DevDependencies map[string]string

	OutputsByTarget map[Target]Output

	// Detect reports whether the generated tree looks like this framework.
	Detect func(fs *FileSet) bool

	// Normalize adds or rewrites framework config files. May be nil.
	Normalize func(fs *FileSet, target Target)

	PromptRulesByTarget map[Target]string
	PromptKeywords      []string
}

// Supports reports whether the framework can deploy to the given target.
func (d *Definition) Supports(target Target) bool {
	return slices.Contains(d.SupportedTargets, target)
}

// FileSet is an order-preserving view over generated files with path lookup.
type FileSet struct {
	files []job.GeneratedFile
	index map[string]int
}

// NewFileSet builds a FileSet. Later duplicates overwrite earlier entries.
func NewFileSet(files []job.GeneratedFile) *FileSet {
	fs := &FileSet{index: make(map[string]int, len(files))}
	for _, f := range files {
		fs.Put(f.Path, f.Content)
	}
	return fs
}

// Get returns the content of path if present.
func (fs *FileSet) Get(path string) (string, bool) {
	i, ok := fs.index[path]
	if !ok {
		return "", false
	}
	return fs.files[i].Content, true
}

// Put inserts or replaces a file.
func (fs *FileSet) Put(path, content string) {
	if i, ok := fs.index[path]; ok {
		fs.files[i].Content = content
		return
	}
	fs.index[path] = len(fs.files)
	fs.files = append(fs.files, job.GeneratedFile{Path: path, Content: content})
}

// Delete removes a file if present.
func (fs *FileSet) Delete(path string) {
	i, ok := fs.index[path]
	if !ok {
		return
	}
	fs.files = append(fs.files[:i], fs.files[i+1:]...)
	delete(fs.index, path)
	for p, j := range fs.index {
		if j > i {
			fs.index[p] = j - 1
		}
	}
}

// Files returns the files in insertion order.
func (fs *FileSet) Files() []job.GeneratedFile {
	return fs.files
}

// Glob reports whether any path matches the doublestar pattern.
func (fs *FileSet) Glob(pattern string) bool {
	return fs.FirstGlob(pattern) != ""
}

// FirstGlob returns the first path matching the doublestar pattern, or "".
func (fs *FileSet) FirstGlob(pattern string) string {
	for _, f := range fs.files {
		if ok, err := doublestar.Match(pattern, f.Path); err == nil && ok {
			return f.Path
		}
	}
	return ""
}

// packageJSON returns the parsed package.json, or nil when absent or
// malformed. Malformed manifests are treated as absent, matching the
// registry's tolerance for model output.
func (fs *FileSet) packageJSON() map[string]any {
	content, ok := fs.Get("package.json")
	if !ok {
		return nil
	}
	var pkg map[string]any
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil
	}
	return pkg
}

// HasDependency reports whether package.json lists name under dependencies
// or devDependencies.
func (fs *FileSet) HasDependency(name string) bool {
	pkg := fs.packageJSON()
	if pkg == nil {
		return false
	}
	for _, section := range []string{"dependencies", "devDependencies"} {
		if deps, ok := pkg[section].(map[string]any); ok {
			if _, ok := deps[name]; ok {
				return true
			}
		}
	}
	return false
}
