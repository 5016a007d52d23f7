// Package dashboard provides a minimal ANSI terminal observability
// adaptor: a standalone goroutine that periodically prints each stage's
// name, processed-element count, and activity state, in place of the
// ncurses-style dashboard no pure-Go equivalent in this module's
// dependency set could substitute for.
package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// Dashboard periodically prints a status table, one line per stage, for
// a fixed set of stages.
type Dashboard struct {
	stages   []*stage.Stage
	interval time.Duration

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New returns a dashboard that refreshes at interval. A non-positive
// interval defaults to 500ms.
func New(stages []*stage.Stage, interval time.Duration) *Dashboard {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Dashboard{
		stages:   stages,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins printing on its own goroutine.
func (d *Dashboard) Start() {
	go d.run()
}

func (d *Dashboard) run() {
	defer close(d.stopped)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *Dashboard) render() {
	names := make([]string, len(d.stages))
	for i, st := range d.stages {
		names[i] = st.Name()
	}
	sort.Strings(names)

	byName := make(map[string]*stage.Stage, len(d.stages))
	for _, st := range d.stages {
		byName[st.Name()] = st
	}

	fmt.Print("\033[2J\033[H")
	fmt.Println("STAGE                PROCESSED      ACTIVE")
	for _, name := range names {
		st := byName[name]
		active := "no"
		if st.Active() {
			active = "yes"
		}
		fmt.Printf("%-20s %-14d %s\n", name, st.Processed(), active)
	}
}

// Stop signals the dashboard to end and blocks until it has. Idempotent.
func (d *Dashboard) Stop() {
	d.once.Do(func() { close(d.stop) })
	<-d.stopped
}
