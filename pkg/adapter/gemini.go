package adapter

// NewGeminiAdapter creates the gemini CLI adapter.
func NewGeminiAdapter(cfg CLIConfig) *CLIAdapter {
	return newCLIAdapter(Gemini, cfg, "gemini-2.5-pro", FramingEnvelope, geminiArgs)
}

func geminiArgs(req GenerationRequest, model string) []string {
	return []string{
		"-p", withSystemBlock(req.System, req.Prompt),
		"--output-format", "json",
		"--model", model,
	}
}
