// Package activity tracks user input and signs idle users out.
package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/pkg/logger"
)

// Defaults
const (
	DefaultTimeout  = time.Hour
	DefaultThrottle = 30 * time.Second
)

// State of the monitor
type State int

const (
	// Idle: no countdown (signed out or exempt)
	Idle State = iota
	// Active: countdown running
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// EventKind is an observed input event
type EventKind string

// Observed event kinds
const (
	PointerDown EventKind = "pointerdown"
	KeyDown     EventKind = "keydown"
	Scroll      EventKind = "scroll"
	TouchStart  EventKind = "touchstart"
)

// ParseEventKind validates an event name
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case PointerDown, KeyDown, Scroll, TouchStart:
		return k, nil
	}
	return "", fmt.Errorf("unknown activity event %q", s)
}

// Monitor is the inactivity countdown state machine
type Monitor struct {
	mu       sync.Mutex
	clock    clock.Clock
	timeout  time.Duration
	throttle time.Duration
	onExpire func()
	logger   *logger.Logger

	state        State
	timer        clock.Timer
	lastAccepted time.Time
	generation   uint64
}

// NewMonitor creates an idle monitor. onExpire runs once per countdown expiry, outside the lock.
func NewMonitor(clk clock.Clock, timeout, throttle time.Duration, onExpire func(), log *logger.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if throttle < 0 {
		throttle = DefaultThrottle
	}
	return &Monitor{
		clock:    clk,
		timeout:  timeout,
		throttle: throttle,
		onExpire: onExpire,
		logger:   log,
	}
}

// Start enters Active and arms a fresh countdown
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Active
	m.lastAccepted = m.clock.Now()
	m.armLocked()
}

// Stop enters Idle and cancels any pending countdown
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Idle
	m.cancelLocked()
}

// Touch records an activity event.
// Returns true when the countdown was reset, false when ignored (idle or inside the throttle window).
func (m *Monitor) Touch(kind EventKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active {
		return false
	}

	now := m.clock.Now()
	if now.Sub(m.lastAccepted) <= m.throttle {
		return false
	}

	m.lastAccepted = now
	m.armLocked()

	m.logger.WithField("event", string(kind)).Debug("Inactivity countdown reset")
	return true
}

// State returns the current state
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns when the countdown fires (zero when idle)
func (m *Monitor) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active {
		return time.Time{}
	}
	return m.lastAccepted.Add(m.timeout)
}

func (m *Monitor) armLocked() {
	m.cancelLocked()

	gen := m.generation
	m.timer = m.clock.AfterFunc(m.timeout, func() { m.expire(gen) })
}

func (m *Monitor) cancelLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	// 이미 재시작/중지된 타이머의 늦은 콜백은 무시
	if gen != m.generation || m.state != Active {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.timer = nil
	m.generation++
	m.mu.Unlock()

	m.logger.Info("Inactivity timeout reached")
	if m.onExpire != nil {
		m.onExpire()
	}
}
