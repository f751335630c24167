package desim

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/timectrl"
)

// flowMonitor accounts IP bytes per unidirectional 5-tuple.
type flowMonitor struct {
	file  string
	flows map[string]*flowEntry
	order []string
}

type flowEntry struct {
	id     int
	key    engine.FlowKey
	rec    model.FlowRecord
	delays []float64
}

func newFlowMonitor(file string) *flowMonitor {
	return &flowMonitor{file: file, flows: make(map[string]*flowEntry)}
}

func (m *flowMonitor) entry(p *packet) *flowEntry {
	key := p.flowKey()
	k := key.String()
	fe, ok := m.flows[k]
	if !ok {
		fe = &flowEntry{id: len(m.order) + 1, key: key}
		m.flows[k] = fe
		m.order = append(m.order, k)
	}
	return fe
}

func (m *flowMonitor) sent(p *packet) {
	fe := m.entry(p)
	if fe.rec.TxPackets == 0 {
		fe.rec.FirstTx = p.sentAt
	}
	fe.rec.TxBytes += uint64(p.ipSize())
	fe.rec.TxPackets++
}

func (m *flowMonitor) received(p *packet, now time.Duration) {
	fe := m.entry(p)
	delay := now - p.sentAt
	fe.rec.RxBytes += uint64(p.ipSize())
	fe.rec.RxPackets++
	fe.rec.LastRx = now
	fe.rec.DelaySum += delay
	fe.delays = append(fe.delays, timectrl.Seconds(delay))
}

// stats returns flows in first-seen order with delay statistics.
func (m *flowMonitor) stats() []engine.FlowStats {
	out := make([]engine.FlowStats, 0, len(m.order))
	for _, k := range m.order {
		fe := m.flows[k]
		fs := engine.FlowStats{ID: fe.id, Key: fe.key, FlowRecord: fe.rec}
		if len(fe.delays) > 0 {
			fs.DelayMean = timectrl.FromSeconds(stat.Mean(fe.delays, nil))
		}
		if len(fe.delays) > 1 {
			if sd := stat.StdDev(fe.delays, nil); !math.IsNaN(sd) {
				fs.DelayStdDev = timectrl.FromSeconds(sd)
			}
		}
		out = append(out, fs)
	}
	return out
}

//
// ---------- Report ----------
//

type flowReport struct {
	XMLName xml.Name     `xml:"FlowMonitor" json:"-" yaml:"-"`
	Flows   []flowRecord `xml:"FlowStats>Flow" json:"flows" yaml:"flows"`
}

type flowRecord struct {
	FlowID          int    `xml:"flowId,attr" json:"flow_id" yaml:"flow_id"`
	Protocol        string `xml:"protocol,attr" json:"protocol" yaml:"protocol"`
	Source          string `xml:"sourceAddress,attr" json:"source" yaml:"source"`
	SourcePort      int    `xml:"sourcePort,attr" json:"source_port" yaml:"source_port"`
	Destination     string `xml:"destinationAddress,attr" json:"destination" yaml:"destination"`
	DestinationPort int    `xml:"destinationPort,attr" json:"destination_port" yaml:"destination_port"`
	TxBytes         uint64 `xml:"txBytes,attr" json:"tx_bytes" yaml:"tx_bytes"`
	TxPackets       uint64 `xml:"txPackets,attr" json:"tx_packets" yaml:"tx_packets"`
	RxBytes         uint64 `xml:"rxBytes,attr" json:"rx_bytes" yaml:"rx_bytes"`
	RxPackets       uint64 `xml:"rxPackets,attr" json:"rx_packets" yaml:"rx_packets"`
	LostPackets     uint64 `xml:"lostPackets,attr" json:"lost_packets" yaml:"lost_packets"`
	TimeFirstTx     string `xml:"timeFirstTxPacket,attr" json:"time_first_tx" yaml:"time_first_tx"`
	TimeLastRx      string `xml:"timeLastRxPacket,attr" json:"time_last_rx" yaml:"time_last_rx"`
	DelayMean       string `xml:"delayMean,attr" json:"delay_mean" yaml:"delay_mean"`
	DelayStdDev     string `xml:"delayStdDev,attr" json:"delay_stddev" yaml:"delay_stddev"`
}

// nsString renders d the way the report does, e.g. "+2003456.0ns".
func nsString(d time.Duration) string {
	return fmt.Sprintf("%+d.0ns", d.Nanoseconds())
}

func buildReport(flows []engine.FlowStats) flowReport {
	var r flowReport
	for _, fs := range flows {
		var lost uint64
		if fs.TxPackets > fs.RxPackets {
			lost = fs.TxPackets - fs.RxPackets
		}
		r.Flows = append(r.Flows, flowRecord{
			FlowID:          fs.ID,
			Protocol:        string(fs.Key.Protocol),
			Source:          fs.Key.Source.String(),
			SourcePort:      fs.Key.SourcePort,
			Destination:     fs.Key.Destination.String(),
			DestinationPort: fs.Key.DestinationPort,
			TxBytes:         fs.TxBytes,
			TxPackets:       fs.TxPackets,
			RxBytes:         fs.RxBytes,
			RxPackets:       fs.RxPackets,
			LostPackets:     lost,
			TimeFirstTx:     nsString(fs.FirstTx),
			TimeLastRx:      nsString(fs.LastRx),
			DelayMean:       nsString(fs.DelayMean),
			DelayStdDev:     nsString(fs.DelayStdDev),
		})
	}
	return r
}

// write renders the report in the format named by path's extension: .json,
// .yaml/.yml, anything else as XML.
func (m *flowMonitor) write(path string, flows []engine.FlowStats) error {
	report := buildReport(flows)

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(report, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	default:
		data, err = xml.MarshalIndent(report, "", "  ")
		if err == nil {
			data = append([]byte(xml.Header), data...)
		}
	}
	if err != nil {
		return fmt.Errorf("desim: encode flow report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("desim: create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("desim: write flow report: %w", err)
	}
	return nil
}
