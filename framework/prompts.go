package framework

import "strings"

// commonRules is appended to every framework rule block.
const commonRules = `General rules:
- Use real published package versions or "latest" in package.json.
- Every file path must be project-relative; never emit absolute paths.
- Emit complete file contents; never use placeholders or ellipses.`

// genericStaticRules is used when no framework keyword matches.
const genericStaticRules = `Generate a static website.
- Emit plain index.html, styles.css, and script.js files.
- Do not include a package.json unless a build step is genuinely needed.`

// staticHints and ssrHints steer the SSR-vs-static choice for frameworks
// that support both targets.
var (
	staticHints = []string{"ssg", "prerender", "static site"}
	ssrHints    = []string{"ssr", "server-rendered", "full-stack"}
)

// hintTarget returns the prompt-driven target for a framework that can
// build both SSR and static output. ok is false when the framework has a
// fixed target or the prompt carries no hint.
func hintTarget(lower string, def *Definition) (Target, bool) {
	if !def.Supports(TargetStatic) || !def.Supports(TargetWorkers) {
		return "", false
	}
	switch {
	case matchesAny(lower, ssrHints):
		return TargetWorkers, true
	case matchesAny(lower, staticHints):
		return TargetStatic, true
	}
	return "", false
}

// PromptRules scans the user prompt for framework keywords and returns the
// system-prompt fragment for the selected framework and target. At most one
// framework is selected, in registry order; no keyword match yields the
// generic static-site rules. The same SSR-vs-static hints steer target
// resolution during normalization, so the rules handed to the model and the
// build that follows agree.
func PromptRules(prompt string) string {
	lower := strings.ToLower(prompt)

	for _, def := range registry {
		if !matchesAny(lower, def.PromptKeywords) {
			continue
		}

		target := def.DefaultTarget
		if t, ok := hintTarget(lower, def); ok {
			target = t
		}

		rules, ok := def.PromptRulesByTarget[target]
		if !ok {
			break
		}
		return rules + "\n\n" + commonRules
	}

	return genericStaticRules + "\n\n" + commonRules
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
