//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// binaryPath builds the CLI once per test binary into a temp dir
func binaryPath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("CODEX_ORCH_BIN"); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			t.Fatal(err)
		}
		return abs
	}

	out := filepath.Join(t.TempDir(), "codex-orch")
	cmd := exec.Command("go", "build", "-o", out, "../cmd/codex-orch")
	if combined, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, combined)
	}
	return out
}

// freePort asks the kernel for an unused TCP port
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a config that runs agentPath against a fresh home
func writeConfig(t *testing.T, home, agentPath string, port int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")

	config := `[general]
home = "` + home + `"

[agent]
command = "` + agentPath + `"
args = []
stop_grace = "1s"
image = ""

[logs]
poll_interval = "50ms"

[web]
host = "127.0.0.1"
port = ` + strconv.Itoa(port) + `

[logging]
level = "debug"
output_path = "` + filepath.Join(home, "orch.log") + `"
`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// startServer runs "serve" in the background and waits for the health check
func startServer(t *testing.T, binary, configPath string, port int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binary, "serve", "--config", configPath)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
		if t.Failed() {
			t.Logf("server stderr:\n%s", stderr.String())
		}
	})

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/api/health"
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not become healthy\n%s", stderr.String())
}

// runCLI executes the binary and returns stdout, failing the test on error
func runCLI(t *testing.T, binary string, args ...string) string {
	t.Helper()
	out, err := tryCLI(binary, args...)
	if err != nil {
		t.Fatalf("codex-orch %v failed: %v\n%s", args, err, out)
	}
	return out
}

func tryCLI(binary string, args ...string) (string, error) {
	cmd := exec.Command(binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String() + stderr.String(), err
	}
	return stdout.String(), nil
}

// decode unmarshals CLI json output into v
func decode(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
}
