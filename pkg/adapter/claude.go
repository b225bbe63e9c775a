package adapter

// claudeNestingEnv makes the claude CLI refuse to start when it believes it
// is already running inside itself.
const claudeNestingEnv = "CLAUDECODE"

// NewClaudeAdapter creates the claude CLI adapter. It uses the dedicated
// system-prompt flag and a single JSON envelope on stdout.
func NewClaudeAdapter(cfg CLIConfig) *CLIAdapter {
	return newCLIAdapter(Claude, cfg, "sonnet", FramingEnvelope, claudeArgs, claudeNestingEnv)
}

func claudeArgs(req GenerationRequest, model string) []string {
	args := []string{"-p", req.Prompt, "--output-format", "json", "--model", model}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	if req.OutputSchema != "" {
		args = append(args, "--json-schema", req.OutputSchema)
	}
	return args
}
