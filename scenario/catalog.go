package scenario

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/timectrl"
	"github.com/pedrobellotti/nstestes/traffic"
)

// EchoPort is the well-known port of every catalog server and sink.
const EchoPort = 9

var catalog = map[string]func() Description{
	"p2p-chain":     p2pChain,
	"dual-lan":      dualLAN,
	"lan-wifi-echo": lanWiFiEcho,
	"lan-wifi-bulk": lanWiFiBulk,
}

// Names returns the built-in scenario names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns a fresh copy of a built-in scenario.
func Lookup(name string) (Description, bool) {
	fn, ok := catalog[name]
	if !ok {
		return Description{}, false
	}
	return fn(), true
}

func seconds(s, e float64) timectrl.Window {
	return timectrl.Window{Start: timectrl.FromSeconds(s), End: timectrl.FromSeconds(e)}
}

func at(id string, x, y float64) instrument.Placement {
	return instrument.Placement{NodeID: id, Position: model.Position{X: x, Y: y}}
}

// Four hosts joined by three point-to-point links of different speeds, one
// echo exchange end to end.
func p2pChain() Description {
	return Description{
		Name:    "p2p-chain",
		Summary: "four nodes on a chain of point-to-point links, one echo from n0 to n3",
		Nodes:   []NodeGroup{{Prefix: "n", Count: 4}},
		Segments: []core.SegmentRequest{
			{ID: "link0", Nodes: []string{"n0", "n1"}, Config: core.PointToPointConfig{DataRate: 5 * core.Mbps, Delay: 2 * time.Millisecond}},
			{ID: "link1", Nodes: []string{"n1", "n2"}, Config: core.PointToPointConfig{DataRate: 10 * core.Mbps, Delay: time.Millisecond}},
			{ID: "link2", Nodes: []string{"n2", "n3"}, Config: core.PointToPointConfig{DataRate: core.Mbps, Delay: 5 * time.Millisecond}},
		},
		Echo: []traffic.EchoSpec{{
			Server:       "n3",
			Client:       "n0",
			Port:         EchoPort,
			PacketSize:   1024,
			PacketCount:  1,
			Interval:     time.Second,
			ServerWindow: seconds(1, 10),
			ClientWindow: seconds(2, 10),
		}},
		Instrumentation: Instrumentation{
			Captures:  []instrument.CaptureRequest{{SegmentID: "link1", Prefix: "p2p-chain"}},
			Animation: "p2p-chain.yaml",
			Grids: []GridPlacement{{
				Nodes: []string{"n0", "n1", "n2", "n3"},
				Grid:  instrument.Grid{DeltaX: 5, DeltaY: 10, Width: 3, RowFirst: true},
			}},
			Positions: []instrument.Placement{at("n0", 0, 1), at("n1", 2, 3), at("n2", 4, 5), at("n3", 6, 7)},
		},
	}
}

// Two shared-medium LANs bridged by a point-to-point link. The client sends
// once per second from 2s; the last request that fits its window is at 9s.
func dualLAN() Description {
	lan := core.SharedMediumConfig{DataRate: 50 * core.Mbps, Delay: 6560 * time.Nanosecond}
	all := []string{"p2p0", "lan1-h0", "lan1-h1", "lan1-h2", "p2p1", "lan2-h0", "lan2-h1", "lan2-h2"}
	return Description{
		Name:    "dual-lan",
		Summary: "two LANs joined by a point-to-point link, eight echoes across",
		Nodes: []NodeGroup{
			{Prefix: "p2p", Count: 2, Type: model.NodeTypeRouter},
			{Prefix: "lan1-h", Count: 3},
			{Prefix: "lan2-h", Count: 3},
		},
		Segments: []core.SegmentRequest{
			{ID: "p2p", Nodes: []string{"p2p0", "p2p1"}, Config: core.PointToPointConfig{DataRate: 10 * core.Mbps, Delay: time.Millisecond}},
			{ID: "lan1", Nodes: []string{"p2p0", "lan1-h0", "lan1-h1", "lan1-h2"}, Config: lan},
			{ID: "lan2", Nodes: []string{"p2p1", "lan2-h0", "lan2-h1", "lan2-h2"}, Config: lan},
		},
		AddressPool: []string{"10.1.2.0/24", "10.1.1.0/24", "10.1.3.0/24"},
		Echo: []traffic.EchoSpec{{
			Server:       "lan2-h2",
			Client:       "lan1-h0",
			Port:         EchoPort,
			PacketSize:   1024,
			PacketCount:  8,
			Interval:     time.Second,
			ServerWindow: seconds(1, 10),
			ClientWindow: seconds(2, 10),
		}},
		Instrumentation: Instrumentation{
			CaptureKinds: []KindCapture{{Kind: core.SharedMedium, Prefix: "LAN"}},
			Animation:    "dual-lan.yaml",
			Grids: []GridPlacement{{
				Nodes: all,
				Grid:  instrument.Grid{DeltaX: 5, DeltaY: 10, Width: 3, RowFirst: true},
			}},
			Positions: []instrument.Placement{
				at("p2p0", 6, 5), at("lan1-h0", 0, 5), at("lan1-h1", 2, 5), at("lan1-h2", 4, 5),
				at("p2p1", 8, 5), at("lan2-h0", 10, 5), at("lan2-h1", 12, 5), at("lan2-h2", 14, 5),
			},
		},
	}
}

// lanWiFi is the shared topology of the two LAN + P2P + WiFi scenarios. The
// pool hands 10.1.2.0 to the P2P link, 10.1.1.0 to the LAN and 10.1.3.0 to
// the cell.
func lanWiFi(name, summary string, wifi core.WirelessConfig) Description {
	return Description{
		Name:    name,
		Summary: summary,
		Nodes: []NodeGroup{
			{IDs: []string{"p2p0"}, Type: model.NodeTypeRouter},
			{IDs: []string{"p2p1"}, Type: model.NodeTypeAccessPoint},
			{Prefix: "csma", Count: 3},
			{Prefix: "sta", Count: 4, Type: model.NodeTypeStation},
		},
		Segments: []core.SegmentRequest{
			{ID: "p2p", Nodes: []string{"p2p0", "p2p1"}, Config: core.PointToPointConfig{DataRate: 10 * core.Mbps, Delay: time.Millisecond}},
			{ID: "lan", Nodes: []string{"csma0", "csma1", "csma2", "p2p0"}, Config: core.SharedMediumConfig{DataRate: 100 * core.Mbps, Delay: 6560 * time.Nanosecond}},
			{ID: "wifi", Nodes: []string{"sta0", "sta1", "sta2", "sta3"}, AccessPoint: "p2p1", Config: wifi},
		},
		AddressPool: []string{"10.1.2.0/24", "10.1.1.0/24", "10.1.3.0/24"},
		Instrumentation: Instrumentation{
			Positions: []instrument.Placement{
				at("csma0", 4, 15), at("csma1", 8, 15), at("csma2", 12, 15), at("p2p0", 16, 15),
				at("p2p1", 10, 13),
			},
		},
		Stop: 10 * time.Second,
	}
}

// Four echo pairs crossing the LAN, the P2P link and the cell in both
// directions. p2p0 sits on two segments, so its pair names the LAN.
func lanWiFiEcho() Description {
	d := lanWiFi("lan-wifi-echo", "LAN, P2P and WiFi cell with four echo pairs of growing size", core.DefaultWirelessConfig())
	pairs := []struct {
		server, client, segment string
		size                    int
	}{
		{"sta0", "csma0", "", 256},
		{"sta1", "csma1", "", 512},
		{"csma2", "sta0", "", 1024},
		{"p2p0", "sta1", "lan", 2048},
	}
	for _, p := range pairs {
		d.Echo = append(d.Echo, traffic.EchoSpec{
			Server:       p.server,
			Client:       p.client,
			Segment:      p.segment,
			Port:         EchoPort,
			PacketSize:   p.size,
			PacketCount:  1,
			Interval:     time.Second,
			ServerWindow: seconds(1, 10),
			ClientWindow: seconds(2, 10),
		})
	}
	d.Instrumentation.FlowAccounting = true
	d.Instrumentation.FlowReport = "lan-wifi-echo-flows.xml"
	d.Instrumentation.Animation = "lan-wifi-echo.yaml"
	d.Instrumentation.Grids = []GridPlacement{{
		Nodes: []string{"sta0", "sta1", "sta2", "sta3"},
		Grid:  instrument.Grid{DeltaX: 5, DeltaY: 10, Width: 3, RowFirst: true},
	}}
	return d
}

// The same topology carrying four unlimited TCP transfers, reported per sink.
func lanWiFiBulk() Description {
	wifi := core.DefaultWirelessConfig()
	wifi.StationMobility.Bounds = model.Rectangle{XMin: 0, XMax: 10, YMin: 0, YMax: 10}

	d := lanWiFi("lan-wifi-bulk", "LAN, P2P and WiFi cell with four bulk transfers", wifi)
	pairs := []struct{ sink, source, segment, label string }{
		{"sta0", "csma0", "", "S1"},
		{"sta1", "csma1", "", "S2"},
		{"csma2", "sta0", "", "S3"},
		{"p2p0", "sta1", "lan", "S4"},
	}
	for _, p := range pairs {
		d.Bulk = append(d.Bulk, traffic.BulkSpec{
			Sink:         p.sink,
			Source:       p.source,
			Segment:      p.segment,
			Label:        p.label,
			Port:         EchoPort,
			SinkWindow:   seconds(1, 10),
			SourceWindow: seconds(2, 10),
		})
	}
	d.Instrumentation.CaptureKinds = []KindCapture{{Kind: core.PointToPoint, Prefix: "lan-wifi-bulk"}}
	d.Instrumentation.FlowAccounting = true
	d.Instrumentation.FlowReport = "lan-wifi-bulk-flows.xml"
	d.Instrumentation.Animation = "lan-wifi-bulk.yaml"
	d.Instrumentation.Grids = []GridPlacement{{
		Nodes: []string{"sta0", "sta1", "sta2", "sta3"},
		Grid:  instrument.Grid{MinX: 1, MinY: 1, DeltaX: 5, DeltaY: 7, Width: 2, RowFirst: true},
	}}
	return d
}
