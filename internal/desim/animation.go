package desim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pedrobellotti/nstestes/model"
)

// animation collects a visualization trace: node placement, station moves
// and link transmissions, capped at max packet records.
type animation struct {
	file string
	max  int

	trace animTrace
}

type animTrace struct {
	Nodes   []animNode   `json:"nodes" yaml:"nodes"`
	Moves   []animMove   `json:"moves,omitempty" yaml:"moves,omitempty"`
	Packets []animPacket `json:"packets,omitempty" yaml:"packets,omitempty"`
	// Truncated counts packet records dropped past the cap.
	Truncated int `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

type animNode struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position model.Position `json:"position" yaml:"position"`
	Placed   bool           `json:"placed" yaml:"placed"`
}

type animMove struct {
	At       time.Duration  `json:"at" yaml:"at"`
	Node     string         `json:"node" yaml:"node"`
	Position model.Position `json:"position" yaml:"position"`
}

type animPacket struct {
	At      time.Duration `json:"at" yaml:"at"`
	ID      uint64        `json:"id" yaml:"id"`
	Kind    string        `json:"kind" yaml:"kind"`
	Segment string        `json:"segment" yaml:"segment"`
	From    string        `json:"from" yaml:"from"`
	To      string        `json:"to" yaml:"to"`
	Bytes   int           `json:"bytes" yaml:"bytes"`
}

func newAnimation(file string, limit int) *animation {
	return &animation{file: file, max: limit}
}

func (a *animation) addNodes(e *Engine) {
	for _, id := range e.nodeOrder {
		n := e.nodes[id]
		a.trace.Nodes = append(a.trace.Nodes, animNode{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.pos,
			Placed:   n.placed,
		})
	}
}

func (a *animation) move(at time.Duration, nodeID string, pos model.Position) {
	a.trace.Moves = append(a.trace.Moves, animMove{At: at, Node: nodeID, Position: pos})
}

func (a *animation) packet(at time.Duration, p *packet, segID, from, to string) {
	if a.max > 0 && len(a.trace.Packets) >= a.max {
		a.trace.Truncated++
		return
	}
	a.trace.Packets = append(a.trace.Packets, animPacket{
		At:      at,
		ID:      p.id,
		Kind:    p.kind.String(),
		Segment: segID,
		From:    from,
		To:      to,
		Bytes:   p.frameSize(),
	})
}

// write renders the trace as JSON for .json paths and YAML otherwise.
func (a *animation) write(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(a.trace, "", "  ")
	} else {
		data, err = yaml.Marshal(a.trace)
	}
	if err != nil {
		return fmt.Errorf("desim: encode animation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("desim: create animation dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("desim: write animation: %w", err)
	}
	return nil
}
