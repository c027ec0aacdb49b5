package framework

// nextWorkersConfig is the canonical standalone-output config written when
// targeting workers. Any model-provided next config is replaced: the
// OpenNext packaging step requires standalone output.
const nextWorkersConfig = `/** @type {import('next').NextConfig} */
const nextConfig = {
  output: 'standalone',
};

export default nextConfig;
`

func nextDefinition() *Definition {
	return &Definition{
		ID:               "next",
		DefaultTarget:    TargetWorkers,
		SupportedTargets: []Target{TargetWorkers},
		Dependencies: map[string]string{
			"next":      "latest",
			"react":     "latest",
			"react-dom": "latest",
		},
		DevDependencies: map[string]string{
			"@opennextjs/cloudflare": "latest",
			"wrangler":               "latest",
		},
		OutputsByTarget: map[Target]Output{
			TargetWorkers: {
				AssetsDir:   ".open-next/assets",
				WorkerEntry: ".open-next/worker.js",
			},
		},
		Detect: func(fs *FileSet) bool {
			return fs.HasDependency("next") || fs.Glob("next.config.{js,mjs,ts}")
		},
		Normalize: func(fs *FileSet, target Target) {
			if target != TargetWorkers {
				return
			}
			fs.Delete("next.config.js")
			fs.Delete("next.config.ts")
			fs.Put("next.config.mjs", nextWorkersConfig)
		},
		PromptRulesByTarget: map[Target]string{
			TargetWorkers: `Generate a Next.js application using the App Router.
- Include a package.json with a "build" script of "next build".
- Place pages under app/ with a root layout.tsx and page.tsx.
- Do not include a next.config file; one is provided for you.
- Do not use Node-only APIs in server components; the app runs on an edge runtime.`,
		},
		PromptKeywords: []string{"next.js", "nextjs", "next js"},
	}
}
