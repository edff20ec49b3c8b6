package messaging

import (
	"context"
	"sync"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	"go-campaign-dispatch/src/infrastructure/events"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
)

// Closer moves a drained in_progress campaign to its terminal status.
// The dispatcher and the status reconciler share it, so both use the same
// compare-and-swap and only one of them ever wins.
type Closer struct {
	campaignRepository domainCampaign.CampaignRepository
	messageRepository  domainCampaign.MessageRepository
	publisher          events.Publisher
	maxRetries         int
	now                func() time.Time
	mu                 sync.RWMutex
	hooks              []func(campaignID int, status domainCampaign.Status)
	Logger             *logger.Logger
}

func NewCloser(
	campaignRepository domainCampaign.CampaignRepository,
	messageRepository domainCampaign.MessageRepository,
	publisher events.Publisher,
	maxRetries int,
	loggerInstance *logger.Logger,
) *Closer {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Closer{
		campaignRepository: campaignRepository,
		messageRepository:  messageRepository,
		publisher:          publisher,
		maxRetries:         maxRetries,
		now:                time.Now,
		Logger:             loggerInstance,
	}
}

// OnClose registers fn to run after every successful closeout
func (c *Closer) OnClose(fn func(campaignID int, status domainCampaign.Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// CloseIfDrained closes the campaign when no pending or retry-eligible
// messages remain. It reports the status written and whether this call
// performed the transition; losing the race to another closer is not an error.
func (c *Closer) CloseIfDrained(ctx context.Context, campaignID int) (domainCampaign.Status, bool, error) {
	counts, err := c.messageRepository.CountByStatus(campaignID, c.maxRetries)
	if err != nil {
		return "", false, err
	}
	if counts.Outstanding() > 0 {
		return "", false, nil
	}

	status := domainCampaign.TerminalStatus(*counts)
	err = c.campaignRepository.TransitionStatus(campaignID, domainCampaign.StatusInProgress, status, c.now())
	if err != nil {
		if domainErrors.IsType(err, domainErrors.ConflictError) {
			c.Logger.Debug("Campaign already left in_progress, skipping closeout", zap.Int("campaignID", campaignID))
			return "", false, nil
		}
		return "", false, err
	}

	c.Logger.Info("Campaign closed",
		zap.Int("campaignID", campaignID),
		zap.String("status", string(status)),
		zap.Int("sent", counts.Sent),
		zap.Int("delivered", counts.Delivered),
		zap.Int("read", counts.Read),
		zap.Int("failed", counts.Failed))

	c.mu.RLock()
	hooks := make([]func(int, domainCampaign.Status), len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(campaignID, status)
	}

	event := events.Event{
		Type:       events.CampaignClosed,
		CampaignID: campaignID,
		Status:     status,
		Counts:     counts,
		OccurredAt: c.now().UTC(),
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.Logger.Warn("Failed to publish closeout event", zap.Error(err), zap.Int("campaignID", campaignID))
	}
	return status, true, nil
}
