package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers one rendered message through the outbound provider
type Sender interface {
	Send(ctx context.Context, phone string, content string) (string, error)
}

// Config controls batching, concurrency and pacing of a dispatcher
type Config struct {
	BatchSize               int
	Workers                 int
	RoundInterval           time.Duration
	EmptyRounds             int
	DefaultRatePerSecond    float64
	ProviderTimeout         time.Duration
	PersistenceFailureLimit int
	Retry                   domainCampaign.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.RoundInterval <= 0 {
		c.RoundInterval = 5 * time.Second
	}
	if c.EmptyRounds <= 0 {
		c.EmptyRounds = 3
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	if c.PersistenceFailureLimit <= 0 {
		c.PersistenceFailureLimit = 3
	}
	if c.Retry.MaxRetries <= 0 && c.Retry.Base <= 0 {
		c.Retry = domainCampaign.DefaultRetryPolicy()
	}
	return c
}

// TickResult summarises one processed batch
type TickResult struct {
	Processed int                   `json:"processed"`
	Sent      int                   `json:"sent"`
	Failed    int                   `json:"failed"`
	Remaining int                   `json:"remaining"`
	Closed    bool                  `json:"closed"`
	Status    domainCampaign.Status `json:"status"`
}

// ErrDispatchAborted is returned by Run after too many rounds in which every store call failed
var ErrDispatchAborted = errors.New("dispatch aborted after repeated persistence failures")

// Dispatcher drains the message queue of one campaign at a time
type Dispatcher struct {
	campaignRepository      domainCampaign.CampaignRepository
	messageRepository       domainCampaign.MessageRepository
	statusHistoryRepository domainCampaign.StatusHistoryRepository
	sender                  Sender
	closer                  *Closer
	cfg                     Config
	now                     func() time.Time
	Logger                  *logger.Logger
}

func NewDispatcher(
	campaignRepository domainCampaign.CampaignRepository,
	messageRepository domainCampaign.MessageRepository,
	statusHistoryRepository domainCampaign.StatusHistoryRepository,
	sender Sender,
	closer *Closer,
	cfg Config,
	loggerInstance *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		campaignRepository:      campaignRepository,
		messageRepository:       messageRepository,
		statusHistoryRepository: statusHistoryRepository,
		sender:                  sender,
		closer:                  closer,
		cfg:                     cfg.withDefaults(),
		now:                     time.Now,
		Logger:                  loggerInstance,
	}
}

// batchOutcome counts what happened to the messages of one batch
type batchOutcome struct {
	processed     int
	sent          int
	failed        int
	storeCalls    int
	storeFailures int
}

func (o batchOutcome) allStoreCallsFailed() bool {
	return o.storeCalls > 0 && o.storeFailures == o.storeCalls
}

// Run processes the campaign until its queue is exhausted, the campaign
// leaves in_progress or ctx is cancelled. Cancellation stops new sends;
// sends already in flight complete and are recorded.
func (d *Dispatcher) Run(ctx context.Context, campaignID int) error {
	log := d.Logger.With(zap.Int("campaignID", campaignID))
	log.Info("Starting campaign dispatcher")

	var limiter *rate.Limiter
	emptyRounds := 0
	persistenceFailures := 0

	fail := func(err error) error {
		persistenceFailures++
		log.Error("Dispatcher store call failed", zap.Error(err), zap.Int("consecutiveFailures", persistenceFailures))
		if persistenceFailures >= d.cfg.PersistenceFailureLimit {
			log.Error("Aborting dispatcher, campaign stays in_progress for the resume sweep")
			return domainErrors.NewAppError(fmt.Errorf("%w: %v", ErrDispatchAborted, err), domainErrors.PersistenceError)
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			log.Info("Dispatcher cancelled")
			return nil
		}

		campaign, err := d.campaignRepository.GetByID(campaignID)
		if err != nil {
			if domainErrors.IsType(err, domainErrors.NotFound) {
				log.Warn("Campaign disappeared, stopping dispatcher")
				return err
			}
			if abort := fail(err); abort != nil {
				return abort
			}
			if !sleepCtx(ctx, d.cfg.RoundInterval) {
				return nil
			}
			continue
		}
		if campaign.Status != domainCampaign.StatusInProgress {
			log.Info("Campaign is no longer in progress, stopping dispatcher", zap.String("status", string(campaign.Status)))
			return nil
		}
		if limiter == nil {
			limiter = d.newLimiter(campaign.MessageDelaySeconds)
		}

		outcome, err := d.processBatch(ctx, campaign, limiter)
		if err != nil {
			if abort := fail(err); abort != nil {
				return abort
			}
			if !sleepCtx(ctx, d.cfg.RoundInterval) {
				return nil
			}
			continue
		}
		if outcome.allStoreCallsFailed() {
			if abort := fail(errors.New("every store write in the batch failed")); abort != nil {
				return abort
			}
		} else {
			persistenceFailures = 0
		}

		if outcome.processed > 0 {
			emptyRounds = 0
			log.Debug("Batch processed",
				zap.Int("processed", outcome.processed),
				zap.Int("sent", outcome.sent),
				zap.Int("failed", outcome.failed))
			continue
		}

		counts, err := d.messageRepository.CountByStatus(campaignID, d.cfg.Retry.MaxRetries)
		if err != nil {
			if abort := fail(err); abort != nil {
				return abort
			}
		} else if counts.Outstanding() > 0 {
			// retries are scheduled in the future, the queue is waiting rather than exhausted
			emptyRounds = 0
		} else {
			emptyRounds++
			if emptyRounds >= d.cfg.EmptyRounds {
				status, closed, err := d.closer.CloseIfDrained(ctx, campaignID)
				if err != nil {
					if abort := fail(err); abort != nil {
						return abort
					}
				} else {
					if closed {
						log.Info("Dispatcher finished", zap.String("status", string(status)))
					}
					return nil
				}
			}
		}

		if !sleepCtx(ctx, d.cfg.RoundInterval) {
			log.Info("Dispatcher cancelled")
			return nil
		}
	}
}

// Tick processes exactly one batch and closes the campaign if that drained it
func (d *Dispatcher) Tick(ctx context.Context, campaignID int) (*TickResult, error) {
	campaign, err := d.campaignRepository.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	result := &TickResult{Status: campaign.Status}
	if campaign.Status != domainCampaign.StatusInProgress {
		return result, nil
	}

	outcome, err := d.processBatch(ctx, campaign, d.newLimiter(campaign.MessageDelaySeconds))
	if err != nil {
		return nil, err
	}
	result.Processed = outcome.processed
	result.Sent = outcome.sent
	result.Failed = outcome.failed

	counts, err := d.messageRepository.CountByStatus(campaignID, d.cfg.Retry.MaxRetries)
	if err != nil {
		return nil, err
	}
	result.Remaining = counts.Outstanding()
	if result.Remaining == 0 {
		status, closed, err := d.closer.CloseIfDrained(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if closed {
			result.Closed = true
			result.Status = status
		}
	}
	return result, nil
}

// processBatch fetches one due batch and pushes it through the worker pool
func (d *Dispatcher) processBatch(ctx context.Context, campaign *domainCampaign.Campaign, limiter *rate.Limiter) (batchOutcome, error) {
	batch, err := d.messageRepository.FetchDueBatch(campaign.ID, d.now(), d.cfg.Retry.MaxRetries, d.cfg.BatchSize)
	if err != nil {
		return batchOutcome{}, err
	}
	if len(*batch) == 0 {
		return batchOutcome{}, nil
	}

	jobs := make(chan domainCampaign.Message)
	results := make(chan messageOutcome, len(*batch))

	workers := d.cfg.Workers
	if workers > len(*batch) {
		workers = len(*batch)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					// cancelled while waiting for a slot; the message stays due
					continue
				}
				results <- d.dispatchOne(ctx, campaign, msg)
			}
		}()
	}

feed:
	for _, msg := range *batch {
		select {
		case jobs <- msg:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var outcome batchOutcome
	for r := range results {
		outcome.processed++
		if r.sent {
			outcome.sent++
		} else {
			outcome.failed++
		}
		outcome.storeCalls++
		if r.storeErr != nil && !domainErrors.IsType(r.storeErr, domainErrors.ConflictError) {
			outcome.storeFailures++
		}
	}
	return outcome, nil
}

type messageOutcome struct {
	sent     bool
	storeErr error
}

// dispatchOne renders, sends and records a single message. The send runs on
// a context detached from ctx so an in-flight call is never abandoned.
func (d *Dispatcher) dispatchOne(ctx context.Context, campaign *domainCampaign.Campaign, msg domainCampaign.Message) messageOutcome {
	content := domainCampaign.Render(campaign.MessageTemplate, msg.RecipientName, msg.RecipientPhone, msg.RecipientFields)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ProviderTimeout)
	externalID, sendErr := d.sender.Send(sendCtx, msg.RecipientPhone, content)
	cancel()
	now := d.now()

	if sendErr == nil {
		err := d.messageRepository.MarkSent(msg.ID, msg.Status, domainCampaign.SendResult{
			ExternalID:      externalID,
			RenderedContent: content,
			SentAt:          now,
		})
		if err != nil {
			d.logStoreError(err, msg, "sent")
			return messageOutcome{sent: true, storeErr: err}
		}
		d.recordHistory(domainCampaign.StatusChange{
			MessageID:  msg.ID,
			CampaignID: msg.CampaignID,
			FromStatus: msg.Status,
			ToStatus:   domainCampaign.MessageSent,
			Source:     domainCampaign.SourceDispatcher,
			ExternalID: externalID,
			OccurredAt: now,
		})
		return messageOutcome{sent: true}
	}

	kind := domainCampaign.ClassifyFailure(sendErr)
	decision := d.cfg.Retry.Decide(msg.RetryCount, kind, now)
	err := d.messageRepository.MarkFailed(msg.ID, msg.Status, domainCampaign.FailureUpdate{
		RenderedContent: content,
		RetryCount:      decision.RetryCount,
		NextRetryAt:     decision.NextRetryAt,
		ErrorMessage:    sendErr.Error(),
		ErrorKind:       string(kind),
	})

	fields := []zap.Field{
		zap.Error(sendErr),
		zap.Int("campaignID", msg.CampaignID),
		zap.Int("messageID", msg.ID),
		zap.String("kind", string(kind)),
		zap.Int("retryCount", decision.RetryCount),
	}
	if decision.Retryable() {
		fields = append(fields, zap.Time("nextRetryAt", *decision.NextRetryAt))
		d.Logger.Warn("Send failed, retry scheduled", fields...)
	} else {
		d.Logger.Error("Send failed permanently", fields...)
	}

	if err != nil {
		d.logStoreError(err, msg, "failed")
		return messageOutcome{storeErr: err}
	}
	d.recordHistory(domainCampaign.StatusChange{
		MessageID:    msg.ID,
		CampaignID:   msg.CampaignID,
		FromStatus:   msg.Status,
		ToStatus:     domainCampaign.MessageFailed,
		Source:       domainCampaign.SourceDispatcher,
		ErrorMessage: sendErr.Error(),
		OccurredAt:   now,
	})
	return messageOutcome{}
}

func (d *Dispatcher) logStoreError(err error, msg domainCampaign.Message, target string) {
	if domainErrors.IsType(err, domainErrors.ConflictError) {
		d.Logger.Warn("Message changed underneath the dispatcher, write skipped",
			zap.Int("messageID", msg.ID), zap.String("expected", string(msg.Status)), zap.String("target", target))
		return
	}
	d.Logger.Error("Error recording send result",
		zap.Error(err), zap.Int("messageID", msg.ID), zap.String("target", target))
}

func (d *Dispatcher) recordHistory(change domainCampaign.StatusChange) {
	if d.statusHistoryRepository == nil {
		return
	}
	if _, err := d.statusHistoryRepository.Create(&change); err != nil {
		d.Logger.Warn("Error writing message status history", zap.Error(err), zap.Int("messageID", change.MessageID))
	}
}

// newLimiter emits one token per message_delay_seconds, or DefaultRatePerSecond
// tokens per second when the campaign has no delay configured.
func (d *Dispatcher) newLimiter(delaySeconds int) *rate.Limiter {
	if delaySeconds > 0 {
		return rate.NewLimiter(rate.Every(time.Duration(delaySeconds)*time.Second), 1)
	}
	if d.cfg.DefaultRatePerSecond > 0 {
		return rate.NewLimiter(rate.Limit(d.cfg.DefaultRatePerSecond), 1)
	}
	return rate.NewLimiter(rate.Inf, 1)
}

// sleepCtx waits for d or until ctx is done; it reports whether the full wait elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
