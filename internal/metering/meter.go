package metering

import (
	"sync"
	"time"
)

const DefaultInterval = 50 * time.Millisecond

// LevelSource yields the current average spectrum level.
type LevelSource interface {
	AverageLevel() float64
}

// Meter samples a LevelSource on a fixed interval and reports each reading.
type Meter struct {
	src      LevelSource
	interval time.Duration
	report   func(float64)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewMeter(src LevelSource, interval time.Duration, report func(float64)) *Meter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Meter{
		src:      src,
		interval: interval,
		report:   report,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Meter) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

func (m *Meter) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		level := m.src.AverageLevel()
		if level < 0 {
			level = 0
		}
		// A stop racing the tick wins.
		select {
		case <-m.stop:
			return
		default:
		}
		if m.report != nil {
			m.report(level)
		}
	}
}

// Stop cancels the timer and waits for an in-flight report to return.
// No report is delivered after Stop returns.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() {
			started = false
			close(m.done)
		})
		if started {
			<-m.done
		}
	})
}
