package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunBuiltinChain(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "run.prom")
	out, err := execute(t, "run", "--builtin", "p2p-chain", "--out", dir, "--metrics-file", metrics, "--log-level", "warn")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "echo0-client (n0 -> n3): 1 requests, 1 replies") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "wrote "+filepath.Join(dir, "p2p-chain.yaml")) {
		t.Fatalf("animation file not reported:\n%s", out)
	}

	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	for _, want := range []string{
		`scenario_builds_total{outcome="ok"} 1`,
		`echo_replies_received_total{role="echo0-client"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestRunScenarioFileWithStopOverride(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run", "../../examples/scenarios/lan-wifi-bulk.json",
		"--out", dir, "--stop", "2200ms", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "stopped at 2.2s") {
		t.Fatalf("stop override ignored:\n%s", out)
	}
	for _, label := range []string{"S1", "S2", "S3", "S4"} {
		if !strings.Contains(out, "("+label+") Total Bytes Received: ") {
			t.Fatalf("summary for %s missing:\n%s", label, out)
		}
	}
	if !strings.Contains(out, " flows: ") {
		t.Fatalf("flow totals missing:\n%s", out)
	}
}

func TestRunReportsBuildErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("segments:\n  - {id: a, kind: p2p, nodes: [x, y], data_rate: 1Mbps, delay: 1ms}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := execute(t, "run", path, "--out", t.TempDir(), "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), `node "x" does not exist`) {
		t.Fatalf("err = %v, want missing node", err)
	}
}

func TestRunNeedsExactlyOneSource(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatalf("run without a scenario succeeded")
	}
	if _, err := execute(t, "run", "x.yaml", "--builtin", "p2p-chain"); err == nil {
		t.Fatalf("run with file and --builtin succeeded")
	}
	if _, err := execute(t, "run", "--builtin", "nope"); err == nil {
		t.Fatalf("run of unknown built-in succeeded")
	}
}

func TestDescribeShowsPoolOrderAddressing(t *testing.T) {
	out, err := execute(t, "describe", "--builtin", "lan-wifi-echo", "--log-level", "error")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{
		"10.1.1.0/24",
		"p2p1=10.1.3.5",
		"csma0=10.1.1.1",
		"p2p:10.1.2.1/24 lan:10.1.1.4/24",
		"islands: 1",
		"echo3-client",
		"send-request",
		"flow report: lan-wifi-echo-flows.xml",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("describe output missing %q:\n%s", want, out)
		}
	}
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "dual-lan") {
		t.Fatalf("list output:\n%s", out)
	}
}
