package adapter

// NewCodexAdapter creates the codex CLI adapter. Codex streams JSON events and
// has no system channel, so system instructions are prepended to the prompt.
func NewCodexAdapter(cfg CLIConfig) *CLIAdapter {
	return newCLIAdapter(Codex, cfg, "gpt-5-codex", FramingEvents, codexArgs)
}

func codexArgs(req GenerationRequest, model string) []string {
	return []string{
		"exec",
		"--json",
		"--skip-git-repo-check",
		"--model", model,
		withSystemBlock(req.System, req.Prompt),
	}
}
