package agentrunner

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// doomLoopAction is what the detector recommends after recording a call.
type doomLoopAction int

const (
	doomLoopOK doomLoopAction = iota
	doomLoopWarn
	doomLoopStop
)

// doomLoopDetector tracks consecutive identical tool calls within one
// task's step loop, ported from the teacher's domain/agents/executor.go
// DoomLoopDetector (warn at 3 repeats, hard-stop at 5).
type doomLoopDetector struct {
	mu               sync.Mutex
	warnThreshold    int
	stopThreshold    int
	lastCallHash     string
	consecutiveCount int
}

func newDoomLoopDetector(warnThreshold, stopThreshold int) *doomLoopDetector {
	return &doomLoopDetector{warnThreshold: warnThreshold, stopThreshold: stopThreshold}
}

func (d *doomLoopDetector) recordCall(toolName string, args map[string]any) (doomLoopAction, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hash := hashToolCall(toolName, args)
	if hash == d.lastCallHash {
		d.consecutiveCount++
	} else {
		d.lastCallHash = hash
		d.consecutiveCount = 1
	}

	switch {
	case d.consecutiveCount >= d.stopThreshold:
		return doomLoopStop, d.consecutiveCount
	case d.consecutiveCount >= d.warnThreshold:
		return doomLoopWarn, d.consecutiveCount
	default:
		return doomLoopOK, d.consecutiveCount
	}
}

func hashToolCall(toolName string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{"tool": toolName, "args": args})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
