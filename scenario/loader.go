package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/timectrl"
	"github.com/pedrobellotti/nstestes/traffic"
)

// LoadFile reads a scenario description. The format follows the file
// extension: .json, .yaml/.yml or .toml.
func LoadFile(path string) (Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Description{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	desc, err := Decode(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Description{}, fmt.Errorf("load scenario %s: %w", path, err)
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return desc, nil
}

// Decode parses data in the given format. Unknown keys are rejected.
func Decode(data []byte, format string) (Description, error) {
	var fd fileDescription
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fd); err != nil {
			return Description{}, core.Wrap(core.ErrConfiguration, "json", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fd); err != nil {
			return Description{}, core.Wrap(core.ErrConfiguration, "yaml", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), &fd)
		if err != nil {
			return Description{}, core.Wrap(core.ErrConfiguration, "toml", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Description{}, core.Errorf(core.ErrConfiguration, "toml", "unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return Description{}, core.Errorf(core.ErrConfiguration, format, "unsupported scenario format")
	}
	return fd.description()
}

//
// ---------- file shapes ----------
//

type fileDescription struct {
	Name            string              `json:"name" yaml:"name" toml:"name"`
	Summary         string              `json:"summary" yaml:"summary" toml:"summary"`
	Nodes           []fileNodeGroup     `json:"nodes" yaml:"nodes" toml:"nodes"`
	Segments        []fileSegment       `json:"segments" yaml:"segments" toml:"segments"`
	AddressPool     []string            `json:"address_pool" yaml:"address_pool" toml:"address_pool"`
	Echo            []fileEcho          `json:"echo" yaml:"echo" toml:"echo"`
	Bulk            []fileBulk          `json:"bulk" yaml:"bulk" toml:"bulk"`
	Instrumentation fileInstrumentation `json:"instrumentation" yaml:"instrumentation" toml:"instrumentation"`
	Stop            string              `json:"stop" yaml:"stop" toml:"stop"`
}

type fileNodeGroup struct {
	IDs    []string `json:"ids" yaml:"ids" toml:"ids"`
	Prefix string   `json:"prefix" yaml:"prefix" toml:"prefix"`
	Count  int      `json:"count" yaml:"count" toml:"count"`
	Type   string   `json:"type" yaml:"type" toml:"type"`
}

type fileSegment struct {
	ID          string    `json:"id" yaml:"id" toml:"id"`
	Kind        string    `json:"kind" yaml:"kind" toml:"kind"`
	Nodes       []string  `json:"nodes" yaml:"nodes" toml:"nodes"`
	AccessPoint string    `json:"access_point" yaml:"access_point" toml:"access_point"`
	DataRate    string    `json:"data_rate" yaml:"data_rate" toml:"data_rate"`
	Delay       string    `json:"delay" yaml:"delay" toml:"delay"`
	WiFi        *fileWiFi `json:"wifi" yaml:"wifi" toml:"wifi"`
}

type fileWiFi struct {
	SSID                 string        `json:"ssid" yaml:"ssid" toml:"ssid"`
	Standard             string        `json:"standard" yaml:"standard" toml:"standard"`
	RemoteStationManager string        `json:"remote_station_manager" yaml:"remote_station_manager" toml:"remote_station_manager"`
	ActiveProbing        *bool         `json:"active_probing" yaml:"active_probing" toml:"active_probing"`
	Mobility             *fileMobility `json:"mobility" yaml:"mobility" toml:"mobility"`
}

type fileMobility struct {
	Model  string    `json:"model" yaml:"model" toml:"model"`
	Bounds *fileRect `json:"bounds" yaml:"bounds" toml:"bounds"`
	Speed  float64   `json:"speed" yaml:"speed" toml:"speed"`
	Step   string    `json:"step" yaml:"step" toml:"step"`
}

type fileRect struct {
	XMin float64 `json:"x_min" yaml:"x_min" toml:"x_min"`
	XMax float64 `json:"x_max" yaml:"x_max" toml:"x_max"`
	YMin float64 `json:"y_min" yaml:"y_min" toml:"y_min"`
	YMax float64 `json:"y_max" yaml:"y_max" toml:"y_max"`
}

type fileWindow struct {
	Start string `json:"start" yaml:"start" toml:"start"`
	End   string `json:"end" yaml:"end" toml:"end"`
}

type fileEcho struct {
	Server       string     `json:"server" yaml:"server" toml:"server"`
	Client       string     `json:"client" yaml:"client" toml:"client"`
	Segment      string     `json:"segment" yaml:"segment" toml:"segment"`
	Port         int        `json:"port" yaml:"port" toml:"port"`
	PacketSize   int        `json:"packet_size" yaml:"packet_size" toml:"packet_size"`
	PacketCount  int        `json:"packet_count" yaml:"packet_count" toml:"packet_count"`
	Interval     string     `json:"interval" yaml:"interval" toml:"interval"`
	ServerWindow fileWindow `json:"server_window" yaml:"server_window" toml:"server_window"`
	ClientWindow fileWindow `json:"client_window" yaml:"client_window" toml:"client_window"`
}

type fileBulk struct {
	Sink         string     `json:"sink" yaml:"sink" toml:"sink"`
	Source       string     `json:"source" yaml:"source" toml:"source"`
	Segment      string     `json:"segment" yaml:"segment" toml:"segment"`
	Label        string     `json:"label" yaml:"label" toml:"label"`
	Port         int        `json:"port" yaml:"port" toml:"port"`
	MaxBytes     uint64     `json:"max_bytes" yaml:"max_bytes" toml:"max_bytes"`
	SendSize     int        `json:"send_size" yaml:"send_size" toml:"send_size"`
	SinkWindow   fileWindow `json:"sink_window" yaml:"sink_window" toml:"sink_window"`
	SourceWindow fileWindow `json:"source_window" yaml:"source_window" toml:"source_window"`
}

type fileInstrumentation struct {
	Captures       []fileCapture  `json:"captures" yaml:"captures" toml:"captures"`
	CaptureKinds   []fileCapture  `json:"capture_kinds" yaml:"capture_kinds" toml:"capture_kinds"`
	FlowAccounting bool           `json:"flow_accounting" yaml:"flow_accounting" toml:"flow_accounting"`
	FlowReport     string         `json:"flow_report" yaml:"flow_report" toml:"flow_report"`
	Animation      string         `json:"animation" yaml:"animation" toml:"animation"`
	Grids          []fileGrid     `json:"grids" yaml:"grids" toml:"grids"`
	Positions      []filePosition `json:"positions" yaml:"positions" toml:"positions"`
}

// fileCapture names a segment in captures and a link kind in capture_kinds.
type fileCapture struct {
	Segment string `json:"segment" yaml:"segment" toml:"segment"`
	Kind    string `json:"kind" yaml:"kind" toml:"kind"`
	Prefix  string `json:"prefix" yaml:"prefix" toml:"prefix"`
}

type fileGrid struct {
	Nodes    []string `json:"nodes" yaml:"nodes" toml:"nodes"`
	MinX     float64  `json:"min_x" yaml:"min_x" toml:"min_x"`
	MinY     float64  `json:"min_y" yaml:"min_y" toml:"min_y"`
	DeltaX   float64  `json:"delta_x" yaml:"delta_x" toml:"delta_x"`
	DeltaY   float64  `json:"delta_y" yaml:"delta_y" toml:"delta_y"`
	Width    int      `json:"width" yaml:"width" toml:"width"`
	RowFirst bool     `json:"row_first" yaml:"row_first" toml:"row_first"`
}

type filePosition struct {
	Node string  `json:"node" yaml:"node" toml:"node"`
	X    float64 `json:"x" yaml:"x" toml:"x"`
	Y    float64 `json:"y" yaml:"y" toml:"y"`
}

//
// ---------- conversion ----------
//

func (fd fileDescription) description() (Description, error) {
	desc := Description{
		Name:        fd.Name,
		Summary:     fd.Summary,
		AddressPool: fd.AddressPool,
	}
	var err error
	if desc.Stop, err = optionalDuration(fd.Name, "stop", fd.Stop); err != nil {
		return Description{}, err
	}

	for _, g := range fd.Nodes {
		desc.Nodes = append(desc.Nodes, NodeGroup{IDs: g.IDs, Prefix: g.Prefix, Count: g.Count, Type: strings.ToUpper(g.Type)})
	}
	for _, s := range fd.Segments {
		req, err := s.request()
		if err != nil {
			return Description{}, err
		}
		desc.Segments = append(desc.Segments, req)
	}
	for i, e := range fd.Echo {
		spec, err := e.spec(fmt.Sprintf("echo[%d]", i))
		if err != nil {
			return Description{}, err
		}
		desc.Echo = append(desc.Echo, spec)
	}
	for i, b := range fd.Bulk {
		spec, err := b.spec(fmt.Sprintf("bulk[%d]", i))
		if err != nil {
			return Description{}, err
		}
		desc.Bulk = append(desc.Bulk, spec)
	}
	if desc.Instrumentation, err = fd.Instrumentation.instrumentation(); err != nil {
		return Description{}, err
	}
	return desc, nil
}

func (s fileSegment) request() (core.SegmentRequest, error) {
	kind, err := core.ParseLinkKind(s.Kind)
	if err != nil {
		return core.SegmentRequest{}, core.Wrap(core.ErrConfiguration, s.ID, err)
	}
	req := core.SegmentRequest{ID: s.ID, Nodes: s.Nodes, AccessPoint: s.AccessPoint}

	switch kind {
	case core.PointToPoint, core.SharedMedium:
		if s.WiFi != nil {
			return req, core.Errorf(core.ErrConfiguration, s.ID, "wifi settings on a %s segment", kind)
		}
		rate, err := core.ParseDataRate(s.DataRate)
		if err != nil {
			return req, core.Wrap(core.ErrConfiguration, s.ID, err)
		}
		delay, err := time.ParseDuration(s.Delay)
		if err != nil {
			return req, core.Errorf(core.ErrConfiguration, s.ID, "delay: %v", err)
		}
		if kind == core.PointToPoint {
			req.Config = core.PointToPointConfig{DataRate: rate, Delay: delay}
		} else {
			req.Config = core.SharedMediumConfig{DataRate: rate, Delay: delay}
		}
	case core.WirelessCell:
		if s.Delay != "" {
			return req, core.Errorf(core.ErrConfiguration, s.ID, "wireless cells take no delay")
		}
		cfg := core.DefaultWirelessConfig()
		if s.DataRate != "" {
			if cfg.DataRate, err = core.ParseDataRate(s.DataRate); err != nil {
				return req, core.Wrap(core.ErrConfiguration, s.ID, err)
			}
		}
		if err := s.WiFi.overlay(s.ID, &cfg); err != nil {
			return req, err
		}
		req.Config = cfg
	}
	return req, nil
}

// overlay applies the fields set in a file onto cfg.
func (w *fileWiFi) overlay(segID string, cfg *core.WirelessConfig) error {
	if w == nil {
		return nil
	}
	if w.SSID != "" {
		cfg.SSID = w.SSID
	}
	if w.Standard != "" {
		cfg.Standard = w.Standard
	}
	if w.RemoteStationManager != "" {
		cfg.RemoteStationManager = w.RemoteStationManager
	}
	if w.ActiveProbing != nil {
		cfg.ActiveProbing = *w.ActiveProbing
	}
	if m := w.Mobility; m != nil {
		mob := &cfg.StationMobility
		if m.Model != "" {
			mob.Model = core.MobilityModel(strings.ToLower(m.Model))
		}
		if m.Bounds != nil {
			mob.Bounds = model.Rectangle{XMin: m.Bounds.XMin, XMax: m.Bounds.XMax, YMin: m.Bounds.YMin, YMax: m.Bounds.YMax}
		}
		if m.Speed != 0 {
			mob.Speed = m.Speed
		}
		if m.Step != "" {
			step, err := time.ParseDuration(m.Step)
			if err != nil {
				return core.Errorf(core.ErrConfiguration, segID, "mobility step: %v", err)
			}
			mob.Step = step
		}
	}
	return nil
}

func (e fileEcho) spec(entity string) (traffic.EchoSpec, error) {
	spec := traffic.EchoSpec{
		Server:      e.Server,
		Client:      e.Client,
		Segment:     e.Segment,
		Port:        e.Port,
		PacketSize:  e.PacketSize,
		PacketCount: e.PacketCount,
		Interval:    time.Second,
	}
	if spec.PacketCount == 0 {
		spec.PacketCount = 1
	}
	var err error
	if e.Interval != "" {
		if spec.Interval, err = time.ParseDuration(e.Interval); err != nil {
			return spec, core.Errorf(core.ErrConfiguration, entity, "interval: %v", err)
		}
	}
	if spec.ServerWindow, err = e.ServerWindow.window(entity + ".server_window"); err != nil {
		return spec, err
	}
	if spec.ClientWindow, err = e.ClientWindow.window(entity + ".client_window"); err != nil {
		return spec, err
	}
	return spec, nil
}

func (b fileBulk) spec(entity string) (traffic.BulkSpec, error) {
	spec := traffic.BulkSpec{
		Sink:     b.Sink,
		Source:   b.Source,
		Segment:  b.Segment,
		Label:    b.Label,
		Port:     b.Port,
		MaxBytes: b.MaxBytes,
		SendSize: b.SendSize,
	}
	var err error
	if spec.SinkWindow, err = b.SinkWindow.window(entity + ".sink_window"); err != nil {
		return spec, err
	}
	if spec.SourceWindow, err = b.SourceWindow.window(entity + ".source_window"); err != nil {
		return spec, err
	}
	return spec, nil
}

func (w fileWindow) window(entity string) (timectrl.Window, error) {
	start, err := optionalDuration(entity, "start", w.Start)
	if err != nil {
		return timectrl.Window{}, err
	}
	end, err := optionalDuration(entity, "end", w.End)
	if err != nil {
		return timectrl.Window{}, err
	}
	return timectrl.Window{Start: start, End: end}, nil
}

func (fi fileInstrumentation) instrumentation() (Instrumentation, error) {
	out := Instrumentation{
		FlowAccounting: fi.FlowAccounting,
		FlowReport:     fi.FlowReport,
		Animation:      fi.Animation,
	}
	for _, c := range fi.Captures {
		if c.Kind != "" {
			return out, core.Errorf(core.ErrConfiguration, c.Segment, "captures name segments; use capture_kinds for kind %q", c.Kind)
		}
		out.Captures = append(out.Captures, instrument.CaptureRequest{SegmentID: c.Segment, Prefix: c.Prefix})
	}
	for _, c := range fi.CaptureKinds {
		kind, err := core.ParseLinkKind(c.Kind)
		if err != nil {
			return out, core.Wrap(core.ErrConfiguration, c.Kind, err)
		}
		out.CaptureKinds = append(out.CaptureKinds, KindCapture{Kind: kind, Prefix: c.Prefix})
	}
	for _, g := range fi.Grids {
		out.Grids = append(out.Grids, GridPlacement{
			Nodes: g.Nodes,
			Grid: instrument.Grid{
				MinX: g.MinX, MinY: g.MinY,
				DeltaX: g.DeltaX, DeltaY: g.DeltaY,
				Width: g.Width, RowFirst: g.RowFirst,
			},
		})
	}
	for _, p := range fi.Positions {
		out.Positions = append(out.Positions, instrument.Placement{NodeID: p.Node, Position: model.Position{X: p.X, Y: p.Y}})
	}
	return out, nil
}

func optionalDuration(entity, field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, core.Errorf(core.ErrConfiguration, entity, "%s: %v", field, err)
	}
	return d, nil
}
