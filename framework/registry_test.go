package framework

import (
	"testing"

	"github.com/c360studio/nimbus/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filesWith(pairs ...string) []job.GeneratedFile {
	var files []job.GeneratedFile
	for i := 0; i+1 < len(pairs); i += 2 {
		files = append(files, job.GeneratedFile{Path: pairs[i], Content: pairs[i+1]})
	}
	return files
}

func TestResolve_ExplicitConfigWinsOverDetection(t *testing.T) {
	// The tree looks like Astro but the config says next.
	fs := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"astro":"^4.0.0"}}`,
		ConfigFile, `{"framework":"next","target":"workers"}`,
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, "next", res.Framework.ID)
	assert.Equal(t, TargetWorkers, res.Target)
}

func TestResolve_DetectionByDependency(t *testing.T) {
	fs := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"astro":"^4.0.0"}}`,
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, "astro", res.Framework.ID)
	assert.Equal(t, TargetStatic, res.Target)
	assert.Equal(t, "dist", res.Config.AssetsDir)
}

func TestResolve_DetectionByConfigFile(t *testing.T) {
	fs := NewFileSet(filesWith(
		"next.config.mjs", "export default {}",
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, "next", res.Framework.ID)
}

func TestResolve_RegistryOrderBreaksTies(t *testing.T) {
	// Both next and vite signatures present; next is registered first.
	fs := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"next":"latest"},"devDependencies":{"vite":"latest"}}`,
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, "next", res.Framework.ID)
}

func TestResolve_NoFrameworkIsStatic(t *testing.T) {
	fs := NewFileSet(filesWith(
		"index.html", "<h1>hi</h1>",
		"styles.css", "body{}",
	))

	res := Resolve(fs, "")
	assert.Nil(t, res.Framework)
	assert.Equal(t, TargetStatic, res.Target)
	assert.Equal(t, "static", res.FrameworkID())
}

func TestResolve_UnsupportedTargetFallsBackToDefault(t *testing.T) {
	fs := NewFileSet(filesWith(
		"package.json", `{"devDependencies":{"vite":"latest"}}`,
		ConfigFile, `{"framework":"vite","target":"workers"}`,
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, TargetStatic, res.Target)
}

func TestResolve_PromptHintOverridesDefaultTarget(t *testing.T) {
	fs := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"astro":"latest"}}`,
	))

	res := Resolve(fs, "a full-stack astro app")
	require.NotNil(t, res.Framework)
	assert.Equal(t, TargetWorkers, res.Target)
}

func TestResolve_ExplicitTargetBeatsPromptHint(t *testing.T) {
	fs := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"astro":"latest"}}`,
		ConfigFile, `{"framework":"astro","target":"static"}`,
	))

	res := Resolve(fs, "an astro ssr dashboard")
	assert.Equal(t, TargetStatic, res.Target)
}

func TestResolve_HintIgnoredForFixedTargetFrameworks(t *testing.T) {
	// vite only builds static; next only builds workers.
	vite := NewFileSet(filesWith(
		"package.json", `{"devDependencies":{"vite":"latest"}}`,
	))
	assert.Equal(t, TargetStatic, Resolve(vite, "a server-rendered vite app").Target)

	next := NewFileSet(filesWith(
		"package.json", `{"dependencies":{"next":"latest"}}`,
	))
	assert.Equal(t, TargetWorkers, Resolve(next, "a static site in next").Target)
}

func TestResolve_MalformedConfigIsUnspecified(t *testing.T) {
	fs := NewFileSet(filesWith(
		ConfigFile, "{not json",
		"package.json", `{"dependencies":{"astro":"latest"}}`,
	))

	res := Resolve(fs, "")
	require.NotNil(t, res.Framework)
	assert.Equal(t, "astro", res.Framework.ID)
}

func TestResolve_ExplicitOverridesForOutputs(t *testing.T) {
	fs := NewFileSet(filesWith(
		ConfigFile, `{"framework":"astro","target":"workers","assetsDir":"public"}`,
	))

	res := Resolve(fs, "")
	assert.Equal(t, "public", res.Config.AssetsDir)
	assert.Equal(t, "dist/_worker.js/index.js", res.Config.WorkerEntry)
}

func TestFileSet_Basics(t *testing.T) {
	fs := NewFileSet(filesWith("a.txt", "1", "b.txt", "2"))

	content, ok := fs.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, "1", content)

	fs.Put("a.txt", "3")
	content, _ = fs.Get("a.txt")
	assert.Equal(t, "3", content)
	assert.Len(t, fs.Files(), 2)

	fs.Delete("a.txt")
	_, ok = fs.Get("a.txt")
	assert.False(t, ok)
	content, ok = fs.Get("b.txt")
	require.True(t, ok)
	assert.Equal(t, "2", content)
}
