package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/ctxwindow/internal/memory"
)

// Maintainer is the part of the controller the scheduler drives.
type Maintainer interface {
	Optimize() memory.OptimizeResult
	Snapshot() []memory.TieredSegment
}

// SnapshotSaver persists a controller snapshot after each run.
type SnapshotSaver interface {
	Save(items []memory.TieredSegment) error
}

// JobState records the outcome of the most recent maintenance run.
type JobState struct {
	Runs       int       `json:"runs"`
	LastRunAt  time.Time `json:"lastRunAt"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Demoted    int       `json:"demoted"`
	Expired    int       `json:"expired"`
}

// Service runs Optimize on a cron schedule and saves a snapshot afterwards.
type Service struct {
	spec   string
	target Maintainer
	saver  SnapshotSaver

	// OnRun, when set, receives the result of every run.
	OnRun func(result memory.OptimizeResult, err error)

	mu      sync.Mutex
	runMu   sync.Mutex
	state   JobState
	cron    *rcron.Cron
	entryID rcron.EntryID
	cancel  context.CancelFunc
	stopCh  chan struct{}
}

// NewService builds a scheduler for target. saver may be nil.
func NewService(spec string, target Maintainer, saver SnapshotSaver) *Service {
	return &Service{
		spec:   spec,
		target: target,
		saver:  saver,
	}
}

func (s *Service) Start(ctx context.Context) error {
	c := rcron.New(rcron.WithSeconds())
	id, err := c.AddFunc(s.spec, func() {
		_ = s.RunOnce()
	})
	if err != nil {
		return fmt.Errorf("register maintenance job %q: %w", s.spec, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.cron = c
	s.entryID = id
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	c.Start()
	log.Printf("[cron] started maintenance job (%s)", s.spec)

	go func() {
		select {
		case <-runCtx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// RunOnce performs one maintenance run synchronously. Runs never overlap.
func (s *Service) RunOnce() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := s.target.Optimize()
	var err error
	if s.saver != nil {
		if saveErr := s.saver.Save(s.target.Snapshot()); saveErr != nil {
			err = fmt.Errorf("save snapshot: %w", saveErr)
		}
	}

	s.mu.Lock()
	s.state.Runs++
	s.state.LastRunAt = time.Now()
	s.state.Demoted = result.Demoted
	s.state.Expired = result.Expired
	if err != nil {
		s.state.LastStatus = "error"
		s.state.LastError = err.Error()
		log.Printf("[cron] maintenance error: %v", err)
	} else {
		s.state.LastStatus = "ok"
		s.state.LastError = ""
		log.Printf("[cron] maintenance done: demoted=%d expired=%d total=%d",
			result.Demoted, result.Expired, result.MemoryUsage.Total)
	}
	onRun := s.OnRun
	s.mu.Unlock()

	if onRun != nil {
		onRun(result, err)
	}
	return err
}

// State returns a copy of the last run's state.
func (s *Service) State() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next reports when the job fires next. It is zero before Start.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}
