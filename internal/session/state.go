package session

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Controller
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// RunState is shared by the controller and both stages. Only the running
// flag changes after creation.
type RunState struct {
	running atomic.Bool
	start   time.Time
	limit   time.Duration
	now     func() time.Time
}

func newRunState(limit time.Duration, now func() time.Time) *RunState {
	rs := &RunState{start: now(), limit: limit, now: now}
	rs.running.Store(true)
	return rs
}

// Running reports the latest value of the running flag
func (rs *RunState) Running() bool {
	return rs.running.Load()
}

// Stop clears the running flag. It reports whether this call cleared it.
func (rs *RunState) Stop() bool {
	return rs.running.CompareAndSwap(true, false)
}

// Elapsed is the time since the session started
func (rs *RunState) Elapsed() time.Duration {
	return rs.now().Sub(rs.start)
}

// Limit is the optional duration limit; zero means none
func (rs *RunState) Limit() time.Duration {
	return rs.limit
}

// Expired reports whether a duration limit is set and has been exceeded
func (rs *RunState) Expired() bool {
	return rs.limit > 0 && rs.Elapsed() > rs.limit
}
