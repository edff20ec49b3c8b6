package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner drains one campaign until it finishes or ctx is cancelled
type Runner interface {
	Run(ctx context.Context, campaignID int) error
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	// set once Stop was requested; a Start that arrives meanwhile is queued behind it
	stopping      bool
	restartQueued bool
}

// Supervisor owns the dispatcher goroutines, at most one per campaign
type Supervisor struct {
	runner             Runner
	campaignRepository domainCampaign.CampaignRepository
	schedule           string

	mu       sync.Mutex
	runs     map[int]*run
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopAll  context.CancelFunc
	cron     *cron.Cron
	shutdown bool

	Logger *logger.Logger
}

func NewSupervisor(runner Runner, campaignRepository domainCampaign.CampaignRepository, schedule string, loggerInstance *logger.Logger) *Supervisor {
	if schedule == "" {
		schedule = "@every 1m"
	}
	baseCtx, stopAll := context.WithCancel(context.Background())
	return &Supervisor{
		runner:             runner,
		campaignRepository: campaignRepository,
		schedule:           schedule,
		runs:               make(map[int]*run),
		baseCtx:            baseCtx,
		stopAll:            stopAll,
		Logger:             loggerInstance,
	}
}

// Start launches a dispatcher for the campaign. It returns false when one
// is already running or the supervisor is shutting down. When the current
// run is stopping, the new one is started as soon as it has exited.
func (s *Supervisor) Start(campaignID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return false
	}
	if current, ok := s.runs[campaignID]; ok {
		if !current.stopping || current.restartQueued {
			return false
		}
		current.restartQueued = true
		go func() {
			<-current.done
			s.Start(campaignID)
		}()
		s.Logger.Info("Campaign dispatcher restart queued behind stopping run", zap.Int("campaignID", campaignID))
		return true
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.runs[campaignID] = r

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			if s.runs[campaignID] == r {
				delete(s.runs, campaignID)
			}
			s.mu.Unlock()
			close(r.done)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("Panic in campaign dispatcher",
					zap.Int("campaignID", campaignID),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
		}()

		if err := s.runner.Run(ctx, campaignID); err != nil {
			s.Logger.Error("Campaign dispatcher stopped with error", zap.Error(err), zap.Int("campaignID", campaignID))
		}
	}()

	s.Logger.Info("Campaign dispatcher started", zap.Int("campaignID", campaignID))
	return true
}

// IsRunning reports whether a dispatcher is attached to the campaign
func (s *Supervisor) IsRunning(campaignID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[campaignID]
	return ok
}

// Stop cancels the campaign's dispatcher and returns a channel closed once it
// has exited. A nil channel means nothing was running.
func (s *Supervisor) Stop(campaignID int) <-chan struct{} {
	s.mu.Lock()
	r, ok := s.runs[campaignID]
	if ok {
		r.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	r.cancel()
	s.Logger.Info("Campaign dispatcher stop requested", zap.Int("campaignID", campaignID))
	return r.done
}

// RunOnce runs fn while holding the campaign's dispatcher slot, so no
// supervised dispatcher can start for it until fn returns. It returns false
// without calling fn when the slot is taken or the supervisor is shutting down.
// fn's context ends with ctx, Stop or Shutdown.
func (s *Supervisor) RunOnce(ctx context.Context, campaignID int, fn func(ctx context.Context) error) (bool, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return false, nil
	}
	if _, ok := s.runs[campaignID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	stopWithCaller := context.AfterFunc(ctx, cancel)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.runs[campaignID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		stopWithCaller()
		cancel()
		s.mu.Lock()
		if s.runs[campaignID] == r {
			delete(s.runs, campaignID)
		}
		s.mu.Unlock()
		close(r.done)
		s.wg.Done()
	}()

	return true, fn(runCtx)
}

// ResumeInProgress starts a dispatcher for every in_progress campaign that has none
func (s *Supervisor) ResumeInProgress() (int, error) {
	campaigns, err := s.campaignRepository.ListByStatus(domainCampaign.StatusInProgress)
	if err != nil {
		s.Logger.Error("Error listing in-progress campaigns for resume", zap.Error(err))
		return 0, err
	}

	started := 0
	for _, c := range *campaigns {
		if s.Start(c.ID) {
			started++
		}
	}
	if started > 0 {
		s.Logger.Info("Resumed campaign dispatchers", zap.Int("count", started))
	}
	return started, nil
}

// StartResumeSchedule runs ResumeInProgress now and then on the configured cron schedule
func (s *Supervisor) StartResumeSchedule() error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(s.schedule, func() { _, _ = s.ResumeInProgress() }); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid resume schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	s.mu.Unlock()

	_, _ = s.ResumeInProgress()
	c.Start()
	s.Logger.Info("Resume sweep scheduled", zap.String("schedule", s.schedule))
	return nil
}

// Shutdown stops the resume sweep, cancels every dispatcher and waits for
// them to exit or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Logger.Info("Shutting down campaign supervisor")

	s.mu.Lock()
	s.shutdown = true
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		cronDone := c.Stop()
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
		}
	}

	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info("Campaign supervisor shutdown complete")
		return nil
	case <-ctx.Done():
		s.Logger.Warn("Campaign supervisor shutdown timed out, dispatchers still finishing in-flight sends")
		return ctx.Err()
	}
}
