package desim

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/pedrobellotti/nstestes/traffic"
)

const snapLen = 65535

// pcapFile is one per-interface capture in libpcap format.
type pcapFile struct {
	path string
	f    *os.File
	buf  *bufio.Writer
	w    *pcapgo.Writer
	err  error
	// frames counts written records.
	frames int
}

// captureFileName follows the <prefix>-<node>-<interface index>.pcap layout.
func captureFileName(prefix, nodeID string, nodeIndex int) string {
	return fmt.Sprintf("%s-%s-%d.pcap", prefix, nodeID, nodeIndex)
}

func (e *Engine) openCaptures() error {
	for _, req := range e.captures {
		seg := e.segments[req.SegmentID]
		for _, ifID := range seg.InterfaceIDs {
			intf := e.ifaces[ifID]
			if intf == nil || intf.capture != nil {
				continue
			}
			path := filepath.Join(e.outDir, captureFileName(req.Prefix, intf.NodeID, intf.NodeIndex))
			pf, err := createPcap(path)
			if err != nil {
				return err
			}
			intf.capture = pf
			e.pcaps = append(e.pcaps, pf)
		}
	}
	return nil
}

func createPcap(path string) (*pcapFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("desim: create capture dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("desim: create capture: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("desim: write pcap header %s: %w", path, err)
	}
	return &pcapFile{path: path, f: f, buf: buf, w: w}, nil
}

// write appends the frame p makes on the link out -> in at simulated time
// at. The first write error sticks and is reported on close.
func (pf *pcapFile) write(at time.Duration, p *packet, out, in *iface) {
	if pf.err != nil || pf.f == nil {
		return
	}
	data, err := serializeFrame(p, out, in)
	if err != nil {
		pf.err = err
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0).Add(at).UTC(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := pf.w.WritePacket(ci, data); err != nil {
		pf.err = err
		return
	}
	pf.frames++
}

func (pf *pcapFile) close() error {
	if pf.f == nil {
		return pf.err
	}
	flushErr := pf.buf.Flush()
	closeErr := pf.f.Close()
	pf.f = nil
	switch {
	case pf.err != nil:
		return fmt.Errorf("desim: capture %s: %w", pf.path, pf.err)
	case flushErr != nil:
		return fmt.Errorf("desim: capture %s: %w", pf.path, flushErr)
	case closeErr != nil:
		return fmt.Errorf("desim: capture %s: %w", pf.path, closeErr)
	}
	return nil
}

func (e *Engine) closeCaptures() error {
	var first error
	for _, pf := range e.pcaps {
		if err := pf.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// serializeFrame renders p as Ethernet/IPv4/UDP or TCP with a zero payload.
func serializeFrame(p *packet, out, in *iface) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       out.MAC,
		DstMAC:       in.MAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version: 4,
		TTL:     64,
		Id:      uint16(p.id),
		SrcIP:   p.src.To4(),
		DstIP:   p.dst.To4(),
	}
	payload := gopacket.Payload(make([]byte, p.payload))

	var transport gopacket.SerializableLayer
	switch p.proto {
	case traffic.TCP:
		ip4.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.srcPort),
			DstPort: layers.TCPPort(p.dstPort),
			Window:  bulkWindow - 1,
		}
		if p.kind == bulkAck {
			tcp.ACK = true
			tcp.Ack = uint32(p.seq)
		} else {
			tcp.PSH = true
			tcp.Seq = uint32(p.seq)
		}
		if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, err
		}
		transport = tcp
	default:
		ip4.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(p.srcPort),
			DstPort: layers.UDPPort(p.dstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, err
		}
		transport = udp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, transport, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
