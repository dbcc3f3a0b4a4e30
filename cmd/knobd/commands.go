package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents a side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdSetLED drives the indicator LED.
type CmdSetLED struct {
	On bool
}

func (CmdSetLED) commandMarker()   {}
func (c CmdSetLED) String() string { return fmt.Sprintf("CmdSetLED(on=%v)", c.On) }

// CmdDebounce blocks the loop for Wait after an observed press.
type CmdDebounce struct {
	Wait time.Duration
}

func (CmdDebounce) commandMarker()   {}
func (c CmdDebounce) String() string { return fmt.Sprintf("CmdDebounce(wait=%s)", c.Wait) }

// CmdSampleButton reads the button level (follow mode).
type CmdSampleButton struct{}

func (CmdSampleButton) commandMarker() {}
func (CmdSampleButton) String() string { return "CmdSampleButton()" }

// CmdResetRotation zeroes the decoder's rotation counter.
type CmdResetRotation struct{}

func (CmdResetRotation) commandMarker() {}
func (CmdResetRotation) String() string { return "CmdResetRotation()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
