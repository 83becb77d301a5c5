// Package reaper implements an optional idle-session culling policy on top
// of a manager.Lister. The core terminal-sharing contract (spec §4) leaves
// kill_idle an explicit Open Question ("optional surrounding policy, not
// core"); IdleReaper is that policy, scheduled the way the teacher
// schedules periodic work (terminal/cron_manager.go: cron.New +
// AddFunc + Start/Stop) rather than a hand-rolled ticker loop.
package reaper

import (
	"log"
	"sync"
	"time"

	"github.com/iwanhae/terminalcore/internal/ptycore"
	"github.com/robfig/cron/v3"
)

const defaultSweepSchedule = "@every 30s"

// Lister is the subset of a manager a reaper needs: the sessions it
// currently tracks. UniqueManager, SingleManager and NamedManager all
// implement it.
type Lister interface {
	Sessions() []*ptycore.Session
}

// IdleReaper terminates sessions that have had zero attached clients for
// at least idleTimeout, checked on sweepSchedule. A session only becomes
// eligible once it has been observed client-less on two consecutive
// sweeps spanning idleTimeout — not merely "client-less right now" — so a
// client reconnecting between sweeps is never penalized for the gap.
type IdleReaper struct {
	mu            sync.Mutex
	lister        Lister
	idleTimeout   time.Duration
	firstIdleSeen map[*ptycore.Session]time.Time

	sched *cron.Cron
}

// New builds an IdleReaper against lister. sweepSchedule is a robfig/cron
// expression (empty defaults to every 30 seconds); idleTimeout is how long
// a session must have no attached clients before it is killed.
func New(lister Lister, idleTimeout time.Duration, sweepSchedule string) (*IdleReaper, error) {
	if sweepSchedule == "" {
		sweepSchedule = defaultSweepSchedule
	}

	r := &IdleReaper{
		lister:        lister,
		idleTimeout:   idleTimeout,
		firstIdleSeen: make(map[*ptycore.Session]time.Time),
		sched:         cron.New(),
	}
	if _, err := r.sched.AddFunc(sweepSchedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins sweeping on the configured schedule.
func (r *IdleReaper) Start() { r.sched.Start() }

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (r *IdleReaper) Stop() {
	ctx := r.sched.Stop()
	<-ctx.Done()
}

func (r *IdleReaper) sweep() {
	now := time.Now()
	sessions := r.lister.Sessions()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*ptycore.Session]struct{}, len(sessions))
	for _, sess := range sessions {
		seen[sess] = struct{}{}

		if len(sess.Clients()) > 0 {
			delete(r.firstIdleSeen, sess)
			continue
		}

		first, tracked := r.firstIdleSeen[sess]
		if !tracked {
			r.firstIdleSeen[sess] = now
			continue
		}
		if now.Sub(first) >= r.idleTimeout {
			delete(r.firstIdleSeen, sess)
			log.Printf("reaper: killing idle session %s (no clients for %s)", sess.ID(), r.idleTimeout)
			go sess.Terminate(true)
		}
	}

	for sess := range r.firstIdleSeen {
		if _, ok := seen[sess]; !ok {
			delete(r.firstIdleSeen, sess)
		}
	}
}
