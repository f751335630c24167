package core

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pedrobellotti/nstestes/model"
)

// LinkKind is the link-layer technology of a segment.
type LinkKind int

const (
	PointToPoint LinkKind = iota + 1 // exactly two nodes
	SharedMedium                     // multi-drop LAN, two or more nodes
	WirelessCell                     // one access point plus stations
)

func (k LinkKind) String() string {
	switch k {
	case PointToPoint:
		return "point-to-point"
	case SharedMedium:
		return "shared-medium"
	case WirelessCell:
		return "wireless"
	default:
		return "unknown"
	}
}

// ParseLinkKind accepts the names used in scenario files.
func ParseLinkKind(s string) (LinkKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p2p", "point-to-point", "pointtopoint":
		return PointToPoint, nil
	case "csma", "lan", "shared", "shared-medium":
		return SharedMedium, nil
	case "wifi", "wireless", "wlan":
		return WirelessCell, nil
	default:
		return 0, fmt.Errorf("unknown link kind %q", s)
	}
}

// DataRate is a link rate in bits per second.
type DataRate uint64

const (
	Bps  DataRate = 1
	Kbps          = 1000 * Bps
	Mbps          = 1000 * Kbps
	Gbps          = 1000 * Mbps
)

var rateUnits = []struct {
	suffix string
	mult   DataRate
}{
	{"gbps", Gbps}, {"gb/s", Gbps},
	{"mbps", Mbps}, {"mb/s", Mbps},
	{"kbps", Kbps}, {"kb/s", Kbps},
	{"bps", Bps}, {"b/s", Bps},
}

// ParseDataRate parses strings such as "5Mbps", "100Mb/s", "1.5Gbps" or a
// bare number of bits per second.
func ParseDataRate(s string) (DataRate, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	mult := Bps
	for _, u := range rateUnits {
		if strings.HasSuffix(raw, u.suffix) {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			mult = u.mult
			break
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid data rate %q", s)
	}
	return DataRate(math.Round(v * float64(mult))), nil
}

func (r DataRate) String() string {
	switch {
	case r >= Gbps && r%Gbps == 0:
		return fmt.Sprintf("%dGbps", r/Gbps)
	case r >= Mbps && r%Mbps == 0:
		return fmt.Sprintf("%dMbps", r/Mbps)
	case r >= Kbps && r%Kbps == 0:
		return fmt.Sprintf("%dkbps", r/Kbps)
	default:
		return fmt.Sprintf("%dbps", uint64(r))
	}
}

// TransmitTime is the serialization delay of n bytes at rate r.
func (r DataRate) TransmitTime(n int) time.Duration {
	if r == 0 || n <= 0 {
		return 0
	}
	return time.Duration(uint64(n) * 8 * uint64(time.Second) / uint64(r))
}

// LinkConfig is the typed, per-technology parameter set of a segment. It is
// implemented only by PointToPointConfig, SharedMediumConfig and
// WirelessConfig.
type LinkConfig interface {
	Kind() LinkKind
	Validate() error
	linkConfig()
}

// PointToPointConfig parametrizes a dedicated two-node link.
type PointToPointConfig struct {
	DataRate DataRate
	Delay    time.Duration
}

func (PointToPointConfig) Kind() LinkKind { return PointToPoint }
func (PointToPointConfig) linkConfig()    {}

func (c PointToPointConfig) Validate() error {
	return validateWired(c.DataRate, c.Delay)
}

// SharedMediumConfig parametrizes a multi-drop LAN.
type SharedMediumConfig struct {
	DataRate DataRate
	Delay    time.Duration
}

func (SharedMediumConfig) Kind() LinkKind { return SharedMedium }
func (SharedMediumConfig) linkConfig()    {}

func (c SharedMediumConfig) Validate() error {
	return validateWired(c.DataRate, c.Delay)
}

func validateWired(rate DataRate, delay time.Duration) error {
	if rate == 0 {
		return fmt.Errorf("data rate must be positive")
	}
	if delay < 0 {
		return fmt.Errorf("delay %v is negative", delay)
	}
	return nil
}

// MobilityModel selects how stations of a wireless cell move.
type MobilityModel string

const (
	MobilityConstant   MobilityModel = "constant"
	MobilityRandomWalk MobilityModel = "random-walk"
)

// Mobility describes station movement inside a wireless cell. The access
// point never moves.
type Mobility struct {
	Model  MobilityModel
	Bounds model.Rectangle
	Speed  float64       // metres per second
	Step   time.Duration // time between direction changes
}

// WirelessConfig parametrizes an infrastructure wireless cell.
type WirelessConfig struct {
	SSID                 string
	Standard             string
	DataRate             DataRate
	RemoteStationManager string
	ActiveProbing        bool
	StationMobility      Mobility
}

// DefaultWirelessConfig returns the cell parameters used by the catalog.
func DefaultWirelessConfig() WirelessConfig {
	return WirelessConfig{
		SSID:                 "ns-3-ssid",
		Standard:             "802.11g",
		DataRate:             54 * Mbps,
		RemoteStationManager: "aarf",
		StationMobility: Mobility{
			Model:  MobilityRandomWalk,
			Bounds: model.Rectangle{XMin: -10, XMax: 10, YMin: -10, YMax: 10},
			Speed:  2,
			Step:   time.Second,
		},
	}
}

func (WirelessConfig) Kind() LinkKind { return WirelessCell }
func (WirelessConfig) linkConfig()    {}

func (c WirelessConfig) Validate() error {
	if c.SSID == "" {
		return fmt.Errorf("empty SSID")
	}
	if c.DataRate == 0 {
		return fmt.Errorf("data rate must be positive")
	}
	switch c.StationMobility.Model {
	case "", MobilityConstant:
	case MobilityRandomWalk:
		b := c.StationMobility.Bounds
		if b.XMax <= b.XMin || b.YMax <= b.YMin {
			return fmt.Errorf("random walk bounds %+v are empty", b)
		}
		if c.StationMobility.Speed <= 0 || c.StationMobility.Step <= 0 {
			return fmt.Errorf("random walk needs positive speed and step")
		}
	default:
		return fmt.Errorf("unknown mobility model %q", c.StationMobility.Model)
	}
	return nil
}

// LinkSegment is a set of nodes sharing one link-layer domain and, once
// addressed, one subnet.
type LinkSegment struct {
	ID     string
	Kind   LinkKind
	Config LinkConfig

	// NodeIDs lists members in attachment order. For a wireless cell the
	// stations come first and the access point last.
	NodeIDs       []string
	AccessPointID string

	// InterfaceIDs parallels NodeIDs.
	InterfaceIDs []string

	// Subnet is nil until the address planner runs.
	Subnet *net.IPNet
}

// HasNode reports whether nodeID is attached to the segment.
func (s *LinkSegment) HasNode(nodeID string) bool {
	for _, id := range s.NodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Stations returns the non-AP members of a wireless cell.
func (s *LinkSegment) Stations() []string {
	if s.Kind != WirelessCell {
		return nil
	}
	out := make([]string, 0, len(s.NodeIDs))
	for _, id := range s.NodeIDs {
		if id != s.AccessPointID {
			out = append(out, id)
		}
	}
	return out
}
