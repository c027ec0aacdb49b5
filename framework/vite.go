package framework

func viteDefinition() *Definition {
	return &Definition{
		ID:               "vite",
		DefaultTarget:    TargetStatic,
		SupportedTargets: []Target{TargetStatic},
		DevDependencies: map[string]string{
			"vite": "latest",
		},
		OutputsByTarget: map[Target]Output{
			TargetStatic: {
				AssetsDir: "dist",
			},
		},
		Detect: func(fs *FileSet) bool {
			return fs.HasDependency("vite") || fs.Glob("vite.config.{js,mjs,ts}")
		},
		PromptRulesByTarget: map[Target]string{
			TargetStatic: `Generate a Vite project.
- Include a package.json with a "build" script of "vite build".
- Put the entry HTML at index.html and sources under src/.`,
		},
		PromptKeywords: []string{"vite", "react app", "single-page app", "spa"},
	}
}
