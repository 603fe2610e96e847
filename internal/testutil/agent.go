package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Mock agent scripts. Each receives the agent argv; the last argument is the prompt.
const (
	// AgentSession prints a session.started record and exits 0.
	AgentSession = `#!/bin/sh
echo '{"type":"session.started","session_id":"abc"}'
echo '{"type":"item.completed","item":{"type":"agent_message","text":"done"}}'
exit 0
`
	// AgentNoSession exits 0 without ever reporting a session.
	AgentNoSession = `#!/bin/sh
echo '{"type":"item.completed"}'
echo 'plain text line'
exit 0
`
	// AgentFail reports a session then exits 3 after writing to stderr.
	AgentFail = `#!/bin/sh
echo '{"type":"session.started","session_id":"xyz"}'
echo 'boom' >&2
exit 3
`
	// AgentSleep reports a session and then waits to be stopped.
	AgentSleep = `#!/bin/sh
echo '{"type":"session.started","session_id":"abc"}'
exec sleep 30
`
	// AgentIgnoreTerm traps SIGTERM so only the grace-period kill ends it.
	AgentIgnoreTerm = `#!/bin/sh
trap '' TERM
echo '{"type":"session.started","session_id":"abc"}'
sleep 30 &
wait
`
	// AgentBackgroundChild exits right away but leaves a child holding stdout open.
	AgentBackgroundChild = `#!/bin/sh
echo '{"type":"session.started","session_id":"abc"}'
sleep 6 &
exit 0
`
	// AgentEcho records its arguments into args.txt in the working directory.
	AgentEcho = `#!/bin/sh
printf '%s\n' "$@" > args.txt
echo '{"type":"thread.started","thread_id":"resumed-1"}'
exit 0
`
)

// WriteAgent writes an executable script and returns its path.
func WriteAgent(t testing.TB, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
