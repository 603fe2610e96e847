package executor

// CommandBuilder builds the agent argv for one-shot and resume invocations.
//
//	<command> <args...> --json <prompt>
//	<command> <args...> --json resume <sessionId> <prompt>
type CommandBuilder struct {
	Command string
	Args    []string
}

// DefaultCommand invokes the codex CLI non-interactively
func DefaultCommand() CommandBuilder {
	return CommandBuilder{
		Command: "codex",
		Args:    []string{"exec", "--dangerously-bypass-approvals-and-sandbox"},
	}
}

// Build returns the arguments after the binary; a non-empty sessionID selects resume mode.
func (b CommandBuilder) Build(prompt, sessionID string) []string {
	args := append([]string(nil), b.Args...)
	args = append(args, "--json")
	if sessionID != "" {
		args = append(args, "resume", sessionID)
	}
	return append(args, prompt)
}
