package desim

import (
	"math"
	"time"

	"github.com/iti/rngstream"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/timectrl"
)

// randomWalk moves one station at constant speed, picking a uniform
// heading every step and reflecting off the cell bounds.
type randomWalk struct {
	node   *node
	bounds model.Rectangle
	speed  float64
	step   time.Duration
	rng    *rngstream.RngStream
}

func (e *Engine) startMobility(stop time.Duration) {
	moving := make(map[string]bool)
	for _, segID := range e.segOrder {
		seg := e.segments[segID]
		cfg, ok := seg.Config.(core.WirelessConfig)
		if !ok || cfg.StationMobility.Model != core.MobilityRandomWalk {
			continue
		}
		m := cfg.StationMobility
		for _, id := range seg.Stations() {
			if moving[id] {
				continue
			}
			moving[id] = true
			n := e.nodes[id]
			n.pos = m.Bounds.Clamp(n.pos)
			w := &randomWalk{
				node:   n,
				bounds: m.Bounds,
				speed:  m.Speed,
				step:   m.Step,
				rng:    rngstream.New(segID + "/" + id),
			}
			e.walkers = append(e.walkers, w)
			e.scheduleWalk(w, stop)
		}
	}
}

func (e *Engine) scheduleWalk(w *randomWalk, stop time.Duration) {
	if e.Now()+w.step > stop {
		return
	}
	e.clk.after(w.step, func() {
		w.advance()
		if e.anim != nil {
			e.anim.move(e.Now(), w.node.ID, w.node.pos)
		}
		e.scheduleWalk(w, stop)
	})
}

// advance moves the station by one step.
func (w *randomWalk) advance() {
	heading := 2 * math.Pi * w.rng.RandU01()
	dist := w.speed * timectrl.Seconds(w.step)
	p := model.Position{
		X: w.node.pos.X + dist*math.Cos(heading),
		Y: w.node.pos.Y + dist*math.Sin(heading),
	}
	w.node.pos = w.bounds.Clamp(reflect(p, w.bounds))
}

func reflect(p model.Position, b model.Rectangle) model.Position {
	switch {
	case p.X < b.XMin:
		p.X = 2*b.XMin - p.X
	case p.X > b.XMax:
		p.X = 2*b.XMax - p.X
	}
	switch {
	case p.Y < b.YMin:
		p.Y = 2*b.YMin - p.Y
	case p.Y > b.YMax:
		p.Y = 2*b.YMax - p.Y
	}
	return p
}
