package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/model"
)

const exampleDir = "../examples/scenarios"

// The example files describe the catalog scenarios; loading one must give
// the same topology, addresses and timeline as the compiled-in version.
func TestExampleFilesMatchCatalog(t *testing.T) {
	for _, file := range []string{
		"p2p-chain.yaml",
		"dual-lan.yaml",
		"lan-wifi-echo.toml",
		"lan-wifi-bulk.json",
	} {
		t.Run(file, func(t *testing.T) {
			loaded, err := LoadFile(filepath.Join(exampleDir, file))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			fromFile := mustBuild(t, loaded)
			builtin := mustBuild(t, mustLookup(t, loaded.Name))

			if !reflect.DeepEqual(addressStrings(fromFile), addressStrings(builtin)) {
				t.Fatalf("addresses differ:\nfile:    %v\ncatalog: %v", addressStrings(fromFile), addressStrings(builtin))
			}
			if !reflect.DeepEqual(fromFile.Traffic.Events(), builtin.Traffic.Events()) {
				t.Fatalf("event timelines differ")
			}
			if fromFile.Stop != builtin.Stop {
				t.Fatalf("stop = %v, catalog %v", fromFile.Stop, builtin.Stop)
			}
			if !reflect.DeepEqual(fromFile.Plan.Captures(), builtin.Plan.Captures()) {
				t.Fatalf("captures = %v, catalog %v", fromFile.Plan.Captures(), builtin.Plan.Captures())
			}
			for _, n := range builtin.Nodes.ListNetworkNodes() {
				want, _ := builtin.Nodes.GetNodePosition(n.ID)
				got, _ := fromFile.Nodes.GetNodePosition(n.ID)
				if got != want {
					t.Fatalf("%s at %+v, catalog %+v", n.ID, got, want)
				}
				if fromFile.Nodes.GetNetworkNode(n.ID).Type != n.Type {
					t.Fatalf("%s type = %s, catalog %s", n.ID, fromFile.Nodes.GetNetworkNode(n.ID).Type, n.Type)
				}
			}
			for _, seg := range builtin.Network.ListSegments() {
				if got := fromFile.Network.GetSegment(seg.ID).Config; !reflect.DeepEqual(got, seg.Config) {
					t.Fatalf("%s config = %+v, catalog %+v", seg.ID, got, seg.Config)
				}
			}
		})
	}
}

func addressStrings(s *Scenario) map[string]string {
	out := make(map[string]string, len(s.Addresses))
	for id, addr := range s.Addresses {
		out[id] = addr.String()
	}
	return out
}

func TestDecodeWirelessOverlay(t *testing.T) {
	desc, err := Decode([]byte(`
nodes:
  - {prefix: sta, count: 2, type: sta}
  - {ids: [ap], type: ap}
segments:
  - id: cell
    kind: wifi
    nodes: [sta0, sta1]
    access_point: ap
    data_rate: 11Mbps
    wifi:
      ssid: lab
      active_probing: true
      mobility:
        bounds: {x_min: 0, x_max: 50, y_min: 0, y_max: 20}
        speed: 4
        step: 500ms
stop: 5s
`), "yml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cfg, ok := desc.Segments[0].Config.(core.WirelessConfig)
	if !ok {
		t.Fatalf("config type = %T", desc.Segments[0].Config)
	}
	want := core.DefaultWirelessConfig()
	want.SSID = "lab"
	want.DataRate = 11 * core.Mbps
	want.ActiveProbing = true
	want.StationMobility.Bounds = model.Rectangle{XMin: 0, XMax: 50, YMin: 0, YMax: 20}
	want.StationMobility.Speed = 4
	want.StationMobility.Step = 500 * time.Millisecond
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("config = %+v\nwant     %+v", cfg, want)
	}
	if desc.Stop != 5*time.Second {
		t.Fatalf("stop = %v", desc.Stop)
	}
	if desc.Nodes[0].Type != model.NodeTypeStation || desc.Nodes[1].Type != model.NodeTypeAccessPoint {
		t.Fatalf("node types = %q, %q", desc.Nodes[0].Type, desc.Nodes[1].Type)
	}
}

func TestDecodeEchoDefaults(t *testing.T) {
	desc, err := Decode([]byte(`{
		"echo": [{"server": "b", "client": "a", "port": 7, "packet_size": 64,
		          "server_window": {"start": "0s", "end": "5s"},
		          "client_window": {"start": "1s", "end": "5s"}}]
	}`), "json")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	spec := desc.Echo[0]
	if spec.PacketCount != 1 || spec.Interval != time.Second {
		t.Fatalf("defaults = %d packets every %v, want 1 every 1s", spec.PacketCount, spec.Interval)
	}
	if spec.ClientWindow.Start != time.Second || spec.ServerWindow.End != 5*time.Second {
		t.Fatalf("windows = %v / %v", spec.ServerWindow, spec.ClientWindow)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name, format, data string
	}{
		{"unknown json key", "json", `{"nodez": []}`},
		{"unknown yaml key", "yaml", "segments:\n  - id: a\n    kind: p2p\n    colour: red\n"},
		{"unknown toml key", "toml", "name = \"x\"\nflavour = \"mint\"\n"},
		{"bad rate", "yaml", "segments:\n  - {id: a, kind: p2p, data_rate: fast, delay: 1ms}\n"},
		{"bad delay", "yaml", "segments:\n  - {id: a, kind: csma, data_rate: 1Mbps, delay: soon}\n"},
		{"bad kind", "yaml", "segments:\n  - {id: a, kind: token-ring}\n"},
		{"wifi on wired link", "yaml", "segments:\n  - {id: a, kind: p2p, data_rate: 1Mbps, delay: 1ms, wifi: {ssid: x}}\n"},
		{"delay on a cell", "yaml", "segments:\n  - {id: a, kind: wifi, delay: 1ms}\n"},
		{"bad window", "json", `{"bulk": [{"sink_window": {"start": "later"}}]}`},
		{"bad capture kind", "json", `{"instrumentation": {"capture_kinds": [{"kind": "fddi"}]}}`},
		{"kind in captures", "json", `{"instrumentation": {"captures": [{"kind": "p2p"}]}}`},
		{"unsupported format", "xml", `<scenario/>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data), tc.format)
			if err == nil {
				t.Fatalf("Decode succeeded")
			}
			if !errors.Is(err, core.ErrConfiguration) {
				t.Fatalf("error %v is not a configuration error", err)
			}
		})
	}
}

func TestLoadFileNamesScenarioAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.toml")
	writeFile(t, path, `
[[nodes]]
prefix = "h"
count = 2

[[segments]]
id = "wire"
kind = "p2p"
nodes = ["h0", "h1"]
data_rate = "1Gbps"
delay = "10us"

[[echo]]
server = "h1"
client = "h0"
port = 9
packet_size = 100
packet_count = 3
interval = "100ms"
server_window = { start = "0s", end = "1s" }
client_window = { start = "100ms", end = "1s" }
`)
	desc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if desc.Name != "tiny" {
		t.Fatalf("name = %q, want tiny", desc.Name)
	}

	s, err := Build(context.Background(), desc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Stop != time.Second {
		t.Fatalf("stop = %v, want 1s", s.Stop)
	}
	if got := s.Plan.AnimationFile(); got != "animation.yaml" {
		t.Fatalf("animation = %q, want the default", got)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("LoadFile of a missing file succeeded")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
