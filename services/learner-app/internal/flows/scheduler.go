package flows

import (
	"sync"
	"time"
)

// Scheduler runs fn once after d.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler schedules on real timers. Wait blocks until every scheduled
// function has run, which lets a CLI honour redirect delays before exiting.
type TimerScheduler struct {
	wg sync.WaitGroup
}

func (s *TimerScheduler) After(d time.Duration, fn func()) {
	s.wg.Add(1)
	time.AfterFunc(d, func() {
		defer s.wg.Done()
		fn()
	})
}

func (s *TimerScheduler) Wait() {
	s.wg.Wait()
}
