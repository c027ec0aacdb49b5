package pipeline

import "github.com/c360studio/nimbus/framework"

// basePrompt is the static system prompt every generation request starts
// from. Framework-specific rules from the registry are appended to it.
const basePrompt = `You are an expert web developer. Generate a complete, working web project for the user's request.

Respond with a JSON object of the form {"files": [{"path": "...", "content": "..."}]}.
Paths are project-relative; never use absolute paths or "..".
Include every file the project needs to build and run. Do not include lockfiles or node_modules.
`

// systemPrompt assembles the full system message for a user prompt.
func systemPrompt(userPrompt string) string {
	return basePrompt + "\n" + framework.PromptRules(userPrompt)
}
