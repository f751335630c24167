package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/internal/desim"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/internal/observability"
	"github.com/pedrobellotti/nstestes/timectrl"
)

func mustLookup(t *testing.T, name string) Description {
	t.Helper()
	desc, ok := Lookup(name)
	if !ok {
		t.Fatalf("catalog has no %q", name)
	}
	return desc
}

func mustBuild(t *testing.T, desc Description, opts ...Option) *Scenario {
	t.Helper()
	s, err := Build(context.Background(), desc, opts...)
	if err != nil {
		t.Fatalf("Build(%s): %v", desc.Name, err)
	}
	return s
}

func runIn(t *testing.T, s *Scenario, dir string) *engine.Results {
	t.Helper()
	res, err := s.Run(context.Background(), desim.New(desim.WithOutputDir(dir)))
	if err != nil {
		t.Fatalf("Run(%s): %v", s.Description.Name, err)
	}
	return res
}

func countSuffix(files []string, suffix string) int {
	n := 0
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			n++
		}
	}
	return n
}

func TestP2PChainExchangesOneEcho(t *testing.T) {
	s := mustBuild(t, mustLookup(t, "p2p-chain"))

	if got := s.Network.GetSegment("link0").Subnet.String(); got != "10.1.1.0/24" {
		t.Fatalf("link0 subnet = %s", got)
	}
	addr, err := s.Network.AddressOf("n3", "link2")
	if err != nil || addr.String() != "10.1.3.2" {
		t.Fatalf("n3 on link2 = %v, %v", addr, err)
	}
	if s.Stop != 10*time.Second {
		t.Fatalf("stop = %v, want the last deactivation 10s", s.Stop)
	}

	dir := t.TempDir()
	res := runIn(t, s, dir)

	client, server := res.App("echo0-client"), res.App("echo0-server")
	if client.RequestsSent != 1 || client.RepliesReceived != 1 {
		t.Fatalf("client sent %d requests, got %d replies; want 1 and 1", client.RequestsSent, client.RepliesReceived)
	}
	if server.RequestsReceived != 1 || server.RepliesSent != 1 {
		t.Fatalf("server got %d requests, sent %d replies; want 1 and 1", server.RequestsReceived, server.RepliesSent)
	}
	if client.Flow.RxBytes != 1024 {
		t.Fatalf("reply bytes = %d, want 1024", client.Flow.RxBytes)
	}

	if n := countSuffix(res.Files, ".pcap"); n != 2 {
		t.Fatalf("pcap files = %d, want 2 (both ends of link1): %v", n, res.Files)
	}
	for _, name := range []string{"p2p-chain-n1-1.pcap", "p2p-chain-n2-0.pcap", "p2p-chain.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if n := countSuffix(res.Files, ".xml"); n != 0 {
		t.Fatalf("flow report written without flow accounting: %v", res.Files)
	}
}

func TestLanWiFiEchoPairs(t *testing.T) {
	s := mustBuild(t, mustLookup(t, "lan-wifi-echo"))

	for seg, want := range map[string]string{
		"lan":  "10.1.1.0/24",
		"p2p":  "10.1.2.0/24",
		"wifi": "10.1.3.0/24",
	} {
		if got := s.Network.GetSegment(seg).Subnet.String(); got != want {
			t.Fatalf("%s subnet = %s, want %s", seg, got, want)
		}
	}
	// The access point is attached after the stations.
	if addr, _ := s.Network.AddressOf("p2p1", "wifi"); addr.String() != "10.1.3.5" {
		t.Fatalf("access point address = %v, want 10.1.3.5", addr)
	}

	dir := t.TempDir()
	res := runIn(t, s, dir)

	sizes := []uint64{256, 512, 1024, 2048}
	for i, size := range sizes {
		client := res.App(fmt.Sprintf("echo%d-client", i))
		server := res.App(fmt.Sprintf("echo%d-server", i))
		if client.RequestsSent != 1 || client.RepliesReceived != 1 {
			t.Fatalf("pair %d: %d requests, %d replies; want 1 and 1", i, client.RequestsSent, client.RepliesReceived)
		}
		if server.RequestsReceived != 1 {
			t.Fatalf("pair %d: server received %d requests", i, server.RequestsReceived)
		}
		if server.Flow.RxBytes != size || client.Flow.RxBytes != size {
			t.Fatalf("pair %d: server rx %d, client rx %d; want %d", i, server.Flow.RxBytes, client.Flow.RxBytes, size)
		}
	}

	if len(res.Flows) != 8 {
		t.Fatalf("flows = %d, want a request and a reply flow per pair", len(res.Flows))
	}
	report, err := os.ReadFile(filepath.Join(dir, "lan-wifi-echo-flows.xml"))
	if err != nil {
		t.Fatalf("flow report: %v", err)
	}
	if !strings.Contains(string(report), `sourceAddress="10.1.1.1"`) {
		t.Fatalf("report has no flow from csma0:\n%s", report)
	}
	if res.StoppedAt != 10*time.Second {
		t.Fatalf("stopped at %v, want 10s", res.StoppedAt)
	}
}

func TestDualLANSendsEveryRequestThatFits(t *testing.T) {
	s := mustBuild(t, mustLookup(t, "dual-lan"))

	for seg, want := range map[string]string{
		"p2p":  "10.1.2.0/24",
		"lan1": "10.1.1.0/24",
		"lan2": "10.1.3.0/24",
	} {
		if got := s.Network.GetSegment(seg).Subnet.String(); got != want {
			t.Fatalf("%s subnet = %s, want %s", seg, got, want)
		}
	}

	res := runIn(t, s, t.TempDir())
	client := res.App("echo0-client")
	if client.RequestsSent != 8 || client.RepliesReceived != 8 {
		t.Fatalf("client %d requests, %d replies; want 8 and 8", client.RequestsSent, client.RepliesReceived)
	}
	if n := countSuffix(res.Files, ".pcap"); n != 8 {
		t.Fatalf("pcap files = %d, want one per LAN interface", n)
	}

	// Explicit positions override the grid.
	pos, _ := s.Nodes.GetNodePosition("p2p0")
	if pos.X != 6 || pos.Y != 5 {
		t.Fatalf("p2p0 at %+v, want (6,5)", pos)
	}
}

func TestLanWiFiBulkSummary(t *testing.T) {
	desc := mustLookup(t, "lan-wifi-bulk")
	desc.Stop = 2500 * time.Millisecond
	s := mustBuild(t, desc)

	var before bytes.Buffer
	if err := s.WriteSinkSummary(&before); err != nil {
		t.Fatalf("WriteSinkSummary: %v", err)
	}
	if !strings.Contains(before.String(), "(S1) Total Bytes Received: 0") {
		t.Fatalf("pre-run summary = %q", before.String())
	}

	res := runIn(t, s, t.TempDir())
	var out bytes.Buffer
	if err := s.WriteSinkSummary(&out); err != nil {
		t.Fatalf("WriteSinkSummary: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("summary lines = %d:\n%s", len(lines), out.String())
	}
	for i, sink := range s.Traffic.Sinks() {
		want := fmt.Sprintf("(S%d) Total Bytes Received: %d", i+1, sink.TotalRx())
		if lines[i] != want {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
		if sink.TotalRx() == 0 {
			t.Fatalf("sink %s received nothing", sink.Label)
		}
		if sink.TotalRx() != res.App(sink.ID).Flow.RxBytes {
			t.Fatalf("sink %s summary and results disagree", sink.Label)
		}
	}
	if n := countSuffix(res.Files, ".pcap"); n != 2 {
		t.Fatalf("pcap files = %d, want both ends of the P2P link", n)
	}
}

func TestEchoScenarioPrintsNoSummary(t *testing.T) {
	s := mustBuild(t, mustLookup(t, "p2p-chain"))
	var out bytes.Buffer
	if err := s.WriteSinkSummary(&out); err != nil {
		t.Fatalf("WriteSinkSummary: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("echo scenario printed %q", out.String())
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := mustBuild(t, mustLookup(t, "lan-wifi-echo"))
	b := mustBuild(t, mustLookup(t, "lan-wifi-echo"))

	if len(a.Addresses) != len(b.Addresses) {
		t.Fatalf("address count differs: %d vs %d", len(a.Addresses), len(b.Addresses))
	}
	for id, addr := range a.Addresses {
		if !addr.Equal(b.Addresses[id]) {
			t.Fatalf("%s: %v vs %v", id, addr, b.Addresses[id])
		}
	}
	if !reflect.DeepEqual(a.Traffic.Events(), b.Traffic.Events()) {
		t.Fatalf("event timelines differ")
	}
	if a.BuildID == b.BuildID {
		t.Fatalf("builds share an ID")
	}
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name   string
		edit   func(*Description)
		base   string
		kind   error
		entity string
	}{
		{
			name:   "pool exhausted",
			base:   "p2p-chain",
			edit:   func(d *Description) { d.AddressPool = []string{"10.1.1.0/24"} },
			kind:   core.ErrAddressSpaceExhausted,
			entity: "link1",
		},
		{
			name:   "lan too large for its subnet",
			base:   "dual-lan",
			edit:   func(d *Description) { d.AddressPool = []string{"10.1.2.0/24", "10.1.1.0/30", "10.1.3.0/24"} },
			kind:   core.ErrAddressRangeExceeded,
			entity: "lan1",
		},
		{
			name: "request before server starts",
			base: "p2p-chain",
			edit: func(d *Description) {
				d.Echo[0].ClientWindow = timectrl.Window{Start: 500 * time.Millisecond, End: 10 * time.Second}
			},
			kind:   core.ErrScenarioTiming,
			entity: "echo0-client",
		},
		{
			name:   "negative stop",
			base:   "p2p-chain",
			edit:   func(d *Description) { d.Stop = -time.Second },
			kind:   core.ErrScenarioTiming,
			entity: "p2p-chain",
		},
		{
			name:   "multi-homed server without segment",
			base:   "lan-wifi-echo",
			edit:   func(d *Description) { d.Echo[3].Segment = "" },
			kind:   core.ErrConfiguration,
			entity: "p2p0",
		},
		{
			name: "capture of unknown segment",
			base: "p2p-chain",
			edit: func(d *Description) {
				d.Instrumentation.Captures = append(d.Instrumentation.Captures, instrument.CaptureRequest{SegmentID: "ghost"})
			},
			kind:   core.ErrUnknownEntity,
			entity: "ghost",
		},
		{
			name: "no traffic and no stop",
			base: "p2p-chain",
			edit: func(d *Description) {
				d.Echo = nil
				d.Instrumentation = Instrumentation{}
			},
			kind:   core.ErrConfiguration,
			entity: "p2p-chain",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			desc := mustLookup(t, tc.base)
			tc.edit(&desc)

			reg := prometheus.NewRegistry()
			metrics, err := observability.NewBuildCollector(reg)
			if err != nil {
				t.Fatalf("NewBuildCollector: %v", err)
			}

			s, err := Build(context.Background(), desc, WithMetrics(metrics))
			if err == nil {
				t.Fatalf("Build succeeded: %+v", s)
			}
			if !errors.Is(err, tc.kind) {
				t.Fatalf("error %v is not %v", err, tc.kind)
			}
			if got := core.EntityOf(err); got != tc.entity {
				t.Fatalf("entity = %q, want %q (%v)", got, tc.entity, err)
			}
			if got := testutil.ToFloat64(metrics.Builds.WithLabelValues("error")); got != 1 {
				t.Fatalf("error builds = %v, want 1", got)
			}
		})
	}
}

func TestBuildAndRunRecordMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	buildMetrics, err := observability.NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}
	runMetrics, err := observability.NewRunCollector(reg)
	if err != nil {
		t.Fatalf("NewRunCollector: %v", err)
	}

	s := mustBuild(t, mustLookup(t, "p2p-chain"), WithMetrics(buildMetrics), WithRunMetrics(runMetrics))
	if got := testutil.ToFloat64(buildMetrics.Builds.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok builds = %v", got)
	}
	for gauge, want := range map[prometheus.Gauge]float64{
		buildMetrics.ScenarioNodes:      4,
		buildMetrics.ScenarioSegments:   3,
		buildMetrics.ScenarioInterfaces: 6,
		buildMetrics.ScenarioRoles:      2,
	} {
		if got := testutil.ToFloat64(gauge); got != want {
			t.Fatalf("gauge = %v, want %v", got, want)
		}
	}
	if n := testutil.CollectAndCount(buildMetrics.BuildDuration); n != 4 {
		t.Fatalf("stage series = %d, want 4", n)
	}

	runIn(t, s, t.TempDir())
	if got := testutil.ToFloat64(runMetrics.RepliesReceived.WithLabelValues("echo0-client")); got != 1 {
		t.Fatalf("replies metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(runMetrics.Runs); got != 1 {
		t.Fatalf("runs = %v, want 1", got)
	}
}

func TestBuildLogsWithBuildID(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "json", Output: &buf})

	ctx := logging.ContextWithBuildID(context.Background(), "build-42")
	s, err := Build(ctx, mustLookup(t, "p2p-chain"), WithLogger(log))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.BuildID != "build-42" {
		t.Fatalf("build ID = %q, want the one from the context", s.BuildID)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"scenario built"`) || !strings.Contains(out, `"build_id":"build-42"`) {
		t.Fatalf("missing build log:\n%s", out)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if n := strings.Count(line, `"build_id"`); n != 1 {
			t.Fatalf("record carries build_id %d times: %s", n, line)
		}
	}
}

func TestBuildExportsStageSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     true,
		ServiceName: "scenario-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = observability.InitTracing(ctx, observability.TracingConfig{}, nil)
	})

	mustBuild(t, mustLookup(t, "p2p-chain"))
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, name := range []string{"scenario.build", "scenario.topology", "scenario.addressing", "scenario.traffic", "scenario.instrumentation"} {
		if !strings.Contains(out, `"`+name+`"`) {
			t.Fatalf("span %s not exported:\n%s", name, out)
		}
	}
}

func TestRunDestroysEngineOnApplyFailure(t *testing.T) {
	s := mustBuild(t, mustLookup(t, "p2p-chain"))
	eng := desim.New(desim.WithOutputDir(t.TempDir()))
	if err := eng.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	_, err := s.Run(context.Background(), eng)
	if !errors.Is(err, engine.ErrDestroyed) {
		t.Fatalf("Run on destroyed engine = %v, want ErrDestroyed", err)
	}
}

func TestNamesAreSorted(t *testing.T) {
	want := []string{"dual-lan", "lan-wifi-bulk", "lan-wifi-echo", "p2p-chain"}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if _, ok := Lookup("nope"); ok {
		t.Fatalf("Lookup of unknown name succeeded")
	}
}
