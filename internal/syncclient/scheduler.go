package syncclient

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type taskKind int

const (
	taskConnectTimeout taskKind = iota
	taskHandshakeTimeout
	taskReconnect
	taskTransferTimeout
)

type task struct {
	seq   uint64
	gen   uint64
	timer clockwork.Timer
}

// scheduler is the arena of pending timers, at most one per kind. A timer
// only runs if it is still registered and its connection generation is
// current when it fires; everything runs on the event loop via post.
type scheduler struct {
	clock   clockwork.Clock
	post    func(func()) bool
	current func() uint64

	seq   uint64
	tasks map[taskKind]task
}

func newScheduler(clock clockwork.Clock, post func(func()) bool, current func() uint64) *scheduler {
	return &scheduler{
		clock:   clock,
		post:    post,
		current: current,
		tasks:   make(map[taskKind]task),
	}
}

func (s *scheduler) schedule(kind taskKind, gen uint64, d time.Duration, fn func()) {
	s.cancel(kind)
	s.seq++
	seq := s.seq
	t := task{seq: seq, gen: gen}
	t.timer = s.clock.AfterFunc(d, func() {
		s.post(func() {
			cur, ok := s.tasks[kind]
			if !ok || cur.seq != seq {
				return
			}
			delete(s.tasks, kind)
			if gen != s.current() {
				return
			}
			fn()
		})
	})
	s.tasks[kind] = t
}

func (s *scheduler) cancel(kind taskKind) {
	if t, ok := s.tasks[kind]; ok {
		t.timer.Stop()
		delete(s.tasks, kind)
	}
}

func (s *scheduler) cancelAll() {
	for kind := range s.tasks {
		s.cancel(kind)
	}
}

func (s *scheduler) pending(kind taskKind) bool {
	_, ok := s.tasks[kind]
	return ok
}
