package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/pkg/pipeline"
	"camstream/pkg/storage"
	"camstream/pkg/storage/consts"
	"camstream/pkg/utils"
)

// Runner performs one capture run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*storage.Manifest, error)
}

type Job struct {
	Interval time.Duration    `json:"interval"`
	Request  pipeline.Request `json:"request"`
}

// Scheduler repeats a capture run every job interval until stopped.
type Scheduler struct {
	t      *time.Ticker
	runner Runner
	lock   sync.Mutex
	job    *Job
	runs   int
	logger *zap.SugaredLogger

	minInterval time.Duration
}

func New(ctx context.Context, runner Runner) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:           t,
		runner:      runner,
		logger:      utils.GetLogger().Named("schedule"),
		minInterval: consts.MinInterval * time.Second,
	}
	s.startDeal(ctx)

	return s
}

func (s *Scheduler) Begin(job Job) error {
	if job.Interval < s.minInterval {
		return fmt.Errorf("interval %s less than %s", job.Interval, s.minInterval)
	}
	s.lock.Lock()
	s.job = &job
	s.lock.Unlock()
	s.t.Reset(job.Interval)
	s.logger.Infof("scheduler: every %s", job.Interval)

	return nil
}

func (s *Scheduler) Stop() {
	s.t.Stop()
	s.lock.Lock()
	s.job = nil
	s.lock.Unlock()
	s.logger.Info("scheduler: stopped")
}

// GetJob returns a copy of the current job, or nil when idle.
func (s *Scheduler) GetJob() *Job {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.job == nil {
		return nil
	}
	j := *s.job
	return &j
}

// Runs is the number of scheduled runs started so far.
func (s *Scheduler) Runs() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.runs
}

func (s *Scheduler) startDeal(ctx context.Context) {
	go func(s *Scheduler) {
		for {
			select {
			case start := <-s.t.C:
				s.lock.Lock()
				job := s.job
				if job != nil {
					s.runs++
				}
				s.lock.Unlock()
				if job == nil {
					s.logger.Warn("scheduler: tick without a job")
					continue
				}

				s.logger.Debugf("scheduler: starting run: %v", start)
				m, err := s.runner.Run(ctx, job.Request)
				if err != nil {
					s.logger.Errorf("scheduler: run err: %s", err)
				} else {
					s.logger.Infof("scheduler: took %s to save %d frames", time.Since(start), len(m.Frames))
				}
			case <-ctx.Done():
				s.t.Stop()
				s.logger.Info("scheduler: stopped!")
				return
			}
		}
	}(s)
}
