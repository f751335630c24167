package model

import "time"

// FlowRecord holds post-run counters for one application or one flow.
// It is produced by the engine and is read-only for the builder.
type FlowRecord struct {
	TxBytes   uint64 `json:"tx_bytes" yaml:"tx_bytes" xml:"txBytes,attr"`
	TxPackets uint64 `json:"tx_packets" yaml:"tx_packets" xml:"txPackets,attr"`
	RxBytes   uint64 `json:"rx_bytes" yaml:"rx_bytes" xml:"rxBytes,attr"`
	RxPackets uint64 `json:"rx_packets" yaml:"rx_packets" xml:"rxPackets,attr"`

	FirstTx time.Duration `json:"first_tx" yaml:"first_tx" xml:"-"`
	LastRx  time.Duration `json:"last_rx" yaml:"last_rx" xml:"-"`

	// DelaySum is the sum of one-way delays over received packets.
	DelaySum time.Duration `json:"delay_sum" yaml:"delay_sum" xml:"-"`
}

// Add folds o into r.
func (r *FlowRecord) Add(o FlowRecord) {
	if r.TxPackets == 0 || (o.TxPackets > 0 && o.FirstTx < r.FirstTx) {
		r.FirstTx = o.FirstTx
	}
	if o.LastRx > r.LastRx {
		r.LastRx = o.LastRx
	}
	r.TxBytes += o.TxBytes
	r.TxPackets += o.TxPackets
	r.RxBytes += o.RxBytes
	r.RxPackets += o.RxPackets
	r.DelaySum += o.DelaySum
}

// MeanDelay returns DelaySum / RxPackets, or zero with nothing received.
func (r FlowRecord) MeanDelay() time.Duration {
	if r.RxPackets == 0 {
		return 0
	}
	return r.DelaySum / time.Duration(r.RxPackets)
}
