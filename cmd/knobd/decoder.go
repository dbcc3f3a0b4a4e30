package main

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Direction of a single quadrature step.
type Direction int

const (
	CounterClockwise Direction = -1
	Clockwise        Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// quadratureTable maps (A, B) sampled on a clock edge to a direction.
// Indexed [A][B]; all four boolean pairs are present, so there is no
// invalid outcome.
//
//	A B  dir
//	0 0  -1
//	0 1  +1
//	1 0  +1
//	1 1  -1
var quadratureTable = [2][2]Direction{
	{CounterClockwise, Clockwise},
	{Clockwise, CounterClockwise},
}

// Decode returns the direction for the channel levels sampled at a clock edge.
// A is the clock (triggering) channel, B the data channel.
func Decode(a, b Level) Direction {
	return quadratureTable[levelIndex(a)][levelIndex(b)]
}

func levelIndex(l Level) int {
	if l {
		return 1
	}
	return 0
}

// EdgeTriggerMode selects which clock edges count as a step.
type EdgeTriggerMode string

const (
	// EdgeTriggerBoth counts rising and falling clock edges: two steps per detent.
	EdgeTriggerBoth EdgeTriggerMode = "both"
	// EdgeTriggerSingle counts rising clock edges only: one step per detent.
	EdgeTriggerSingle EdgeTriggerMode = "single"
)

// ClockTrigger is the pin trigger the clock channel must be configured with.
func (m EdgeTriggerMode) ClockTrigger() Trigger {
	if m == EdgeTriggerSingle {
		return TriggerRising
	}
	return TriggerBoth
}

// OverflowPolicy defines what happens at the int64 bounds of the rotation counter.
type OverflowPolicy string

const (
	// OverflowSaturate holds the counter at math.MaxInt64 / math.MinInt64.
	OverflowSaturate OverflowPolicy = "saturate"
	// OverflowWrap wraps with two's complement arithmetic.
	OverflowWrap OverflowPolicy = "wrap"
)

// Decoder owns the counters shared between edge handlers and the polling loop.
//
// Edge handlers (ClockEdge, ButtonEdge, Fault) only perform a single atomic
// update, so they are safe to call from any backend goroutine. Drains are a
// single atomic swap, so no increment can slip between read and reset.
type Decoder struct {
	mode     EdgeTriggerMode
	overflow OverflowPolicy

	rotation atomic.Int64
	presses  atomic.Uint32
	faults   atomic.Uint32
}

// NewDecoder creates a decoder with both counters at zero.
func NewDecoder(mode EdgeTriggerMode, overflow OverflowPolicy) *Decoder {
	if mode == "" {
		mode = EdgeTriggerBoth
	}
	if overflow == "" {
		overflow = OverflowSaturate
	}
	return &Decoder{mode: mode, overflow: overflow}
}

// Mode returns the configured edge trigger mode.
func (d *Decoder) Mode() EdgeTriggerMode { return d.mode }

// ClockEdge applies one step for the levels sampled on a clock edge.
// In single mode a falling edge (A low) is ignored and ok is false.
func (d *Decoder) ClockEdge(a, b Level) (dir Direction, ok bool) {
	if d.mode == EdgeTriggerSingle && a == Low {
		return 0, false
	}
	dir = Decode(a, b)
	d.apply(dir)
	return dir, true
}

func (d *Decoder) apply(dir Direction) {
	if d.overflow == OverflowWrap {
		d.rotation.Add(int64(dir))
		return
	}
	for {
		cur := d.rotation.Load()
		if (dir > 0 && cur == math.MaxInt64) || (dir < 0 && cur == math.MinInt64) {
			return
		}
		if d.rotation.CompareAndSwap(cur, cur+int64(dir)) {
			return
		}
	}
}

// ButtonEdge records one button edge.
func (d *Decoder) ButtonEdge() { d.presses.Add(1) }

// Fault records a failed pin read in edge context.
func (d *Decoder) Fault() { d.faults.Add(1) }

// Rotation returns the current rotation counter.
func (d *Decoder) Rotation() int64 { return d.rotation.Load() }

// DrainPresses returns the presses recorded since the last drain and resets to zero.
func (d *Decoder) DrainPresses() uint32 { return d.presses.Swap(0) }

// DrainFaults returns the faults recorded since the last drain and resets to zero.
func (d *Decoder) DrainFaults() uint32 { return d.faults.Swap(0) }

// ResetRotation zeroes the rotation counter and returns the previous value.
func (d *Decoder) ResetRotation() int64 { return d.rotation.Swap(0) }

// rotationDelta is the signed change from prev to cur. Subtraction wraps, so
// the sign stays correct across an OverflowWrap boundary as long as fewer than
// 2^63 steps happen between two polls.
func rotationDelta(prev, cur int64) int64 {
	return int64(uint64(cur) - uint64(prev))
}
