package framework

// astroWorkersConfig is the canonical server-output config with the
// Cloudflare adapter, written when targeting workers.
const astroWorkersConfig = `import { defineConfig } from 'astro/config';
import cloudflare from '@astrojs/cloudflare';

export default defineConfig({
  output: 'server',
  adapter: cloudflare(),
});
`

// astroStaticConfig is the canonical static-output config.
const astroStaticConfig = `import { defineConfig } from 'astro/config';

export default defineConfig({
  output: 'static',
});
`

func astroDefinition() *Definition {
	return &Definition{
		ID:               "astro",
		DefaultTarget:    TargetStatic,
		SupportedTargets: []Target{TargetStatic, TargetWorkers},
		Dependencies: map[string]string{
			"astro": "latest",
		},
		OutputsByTarget: map[Target]Output{
			TargetStatic: {
				AssetsDir: "dist",
			},
			TargetWorkers: {
				AssetsDir:   "dist",
				WorkerEntry: "dist/_worker.js/index.js",
			},
		},
		Detect: func(fs *FileSet) bool {
			return fs.HasDependency("astro") || fs.Glob("astro.config.{mjs,js,ts}")
		},
		Normalize: func(fs *FileSet, target Target) {
			fs.Delete("astro.config.js")
			fs.Delete("astro.config.ts")
			if target == TargetWorkers {
				mergeDependencies(fs, map[string]string{"@astrojs/cloudflare": "latest"}, nil)
				fs.Put("astro.config.mjs", astroWorkersConfig)
				return
			}
			if _, ok := fs.Get("astro.config.mjs"); !ok {
				fs.Put("astro.config.mjs", astroStaticConfig)
			}
		},
		PromptRulesByTarget: map[Target]string{
			TargetStatic: `Generate an Astro site with static output.
- Include a package.json with a "build" script of "astro build".
- Place pages under src/pages/.
- Do not include an astro.config file; one is provided for you.`,
			TargetWorkers: `Generate a server-rendered Astro application.
- Include a package.json with a "build" script of "astro build".
- Place pages under src/pages/; server endpoints under src/pages/api/.
- Do not include an astro.config file; one with the Cloudflare adapter is provided for you.`,
		},
		PromptKeywords: []string{"astro"},
	}
}
