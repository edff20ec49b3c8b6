package reconciler

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Outcome describes what happened to one provider status event
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeDropped means no message carries the external id (yet)
	OutcomeDropped Outcome = "dropped"
	// OutcomeIgnored means the event or its status is not one we track
	OutcomeIgnored Outcome = "ignored"
	// OutcomeStale means the message is already at or past the reported status
	OutcomeStale Outcome = "stale"
)

// StatusEvent is a delivery callback in provider terms
type StatusEvent struct {
	ExternalID string
	Status     string
	Timestamp  string // unix seconds, unix milliseconds or RFC3339; empty means now
}

// Result reports the effect of an event
type Result struct {
	Outcome        Outcome                      `json:"outcome"`
	MessageID      int                          `json:"messageId,omitempty"`
	CampaignID     int                          `json:"campaignId,omitempty"`
	From           domainCampaign.MessageStatus `json:"from,omitempty"`
	To             domainCampaign.MessageStatus `json:"to,omitempty"`
	CampaignClosed bool                         `json:"campaignClosed,omitempty"`
	CampaignStatus domainCampaign.Status        `json:"campaignStatus,omitempty"`
}

// Closer closes a drained in_progress campaign
type Closer interface {
	CloseIfDrained(ctx context.Context, campaignID int) (domainCampaign.Status, bool, error)
}

// IReconcilerUseCase folds provider callbacks into message state
type IReconcilerUseCase interface {
	ApplyEvent(ctx context.Context, event StatusEvent) (*Result, error)
	HandleWebhook(ctx context.Context, body []byte) (*Result, error)
}

type ReconcilerUseCase struct {
	campaignRepository      domainCampaign.CampaignRepository
	messageRepository       domainCampaign.MessageRepository
	statusHistoryRepository domainCampaign.StatusHistoryRepository
	closer                  Closer
	instanceKey             string
	now                     func() time.Time
	Logger                  *logger.Logger
}

func NewReconcilerUseCase(
	campaignRepository domainCampaign.CampaignRepository,
	messageRepository domainCampaign.MessageRepository,
	statusHistoryRepository domainCampaign.StatusHistoryRepository,
	closer Closer,
	instanceKey string,
	loggerInstance *logger.Logger,
) *ReconcilerUseCase {
	return &ReconcilerUseCase{
		campaignRepository:      campaignRepository,
		messageRepository:       messageRepository,
		statusHistoryRepository: statusHistoryRepository,
		closer:                  closer,
		instanceKey:             instanceKey,
		now:                     time.Now,
		Logger:                  loggerInstance,
	}
}

// HandleWebhook parses {instanceKey, type, data:{messageId, status, timestamp}}.
// Only "status" events are reconciled; anything else is acknowledged and ignored.
func (u *ReconcilerUseCase) HandleWebhook(ctx context.Context, body []byte) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, domainErrors.NewAppError(errors.New("webhook body is not valid JSON"), domainErrors.ValidationError)
	}
	payload := gjson.ParseBytes(body)

	if u.instanceKey != "" {
		if key := payload.Get("instanceKey").String(); key != u.instanceKey {
			u.Logger.Warn("Webhook from unknown instance ignored", zap.String("instanceKey", key))
			return &Result{Outcome: OutcomeIgnored}, nil
		}
	}

	if eventType := payload.Get("type").String(); eventType != "status" {
		u.Logger.Debug("Webhook event type ignored", zap.String("type", eventType))
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	data := payload.Get("data")
	return u.ApplyEvent(ctx, StatusEvent{
		ExternalID: data.Get("messageId").String(),
		Status:     data.Get("status").String(),
		Timestamp:  data.Get("timestamp").String(),
	})
}

// ApplyEvent moves the message forward along the delivery lattice. Events
// that would move it backward, or that name an unknown external id, change nothing.
func (u *ReconcilerUseCase) ApplyEvent(ctx context.Context, event StatusEvent) (*Result, error) {
	to, ok := domainCampaign.NormalizeProviderStatus(event.Status)
	if !ok {
		u.Logger.Debug("Provider status not tracked", zap.String("status", event.Status), zap.String("externalID", event.ExternalID))
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	if event.ExternalID == "" {
		u.Logger.Warn("Status event without message id dropped", zap.String("status", event.Status))
		return &Result{Outcome: OutcomeDropped, To: to}, nil
	}

	message, err := u.messageRepository.GetByExternalID(event.ExternalID)
	if err != nil {
		if domainErrors.IsType(err, domainErrors.NotFound) {
			u.Logger.Info("Status event for unknown message dropped",
				zap.String("externalID", event.ExternalID), zap.String("status", string(to)))
			return &Result{Outcome: OutcomeDropped, To: to}, nil
		}
		return nil, err
	}

	at := parseEventTime(event.Timestamp, u.now())
	errorMessage := ""
	if to == domainCampaign.MessageFailed {
		errorMessage = "provider reported delivery failure (" + event.Status + ")"
	}

	result := &Result{MessageID: message.ID, CampaignID: message.CampaignID, To: to}
	for attempt := 0; ; attempt++ {
		result.From = message.Status
		if !domainCampaign.CanReconcile(message.Status, to) {
			u.Logger.Debug("Stale status event ignored",
				zap.Int("messageID", message.ID),
				zap.String("current", string(message.Status)),
				zap.String("reported", string(to)))
			result.Outcome = OutcomeStale
			return result, nil
		}

		err = u.messageRepository.ApplyDeliveryStatus(message.ID, message.Status, to, at, errorMessage)
		if err == nil {
			break
		}
		if !domainErrors.IsType(err, domainErrors.ConflictError) || attempt > 0 {
			if domainErrors.IsType(err, domainErrors.ConflictError) {
				result.Outcome = OutcomeStale
				return result, nil
			}
			return nil, err
		}
		message, err = u.messageRepository.GetByID(message.ID)
		if err != nil {
			return nil, err
		}
	}

	result.Outcome = OutcomeApplied
	u.Logger.Info("Message status reconciled",
		zap.Int("messageID", message.ID),
		zap.Int("campaignID", message.CampaignID),
		zap.String("from", string(result.From)),
		zap.String("to", string(to)))

	if _, err := u.statusHistoryRepository.Create(&domainCampaign.StatusChange{
		MessageID:    message.ID,
		CampaignID:   message.CampaignID,
		FromStatus:   result.From,
		ToStatus:     to,
		Source:       domainCampaign.SourceWebhook,
		ExternalID:   event.ExternalID,
		ErrorMessage: errorMessage,
		OccurredAt:   at,
	}); err != nil {
		u.Logger.Warn("Error writing message status history", zap.Error(err), zap.Int("messageID", message.ID))
	}

	u.closeIfDrained(ctx, message.CampaignID, result)
	return result, nil
}

func (u *ReconcilerUseCase) closeIfDrained(ctx context.Context, campaignID int, result *Result) {
	campaign, err := u.campaignRepository.GetByID(campaignID)
	if err != nil {
		u.Logger.Warn("Error loading campaign after reconcile", zap.Error(err), zap.Int("campaignID", campaignID))
		return
	}
	result.CampaignStatus = campaign.Status
	if campaign.Status != domainCampaign.StatusInProgress || u.closer == nil {
		return
	}

	status, closed, err := u.closer.CloseIfDrained(ctx, campaignID)
	if err != nil {
		u.Logger.Warn("Closeout after reconcile failed", zap.Error(err), zap.Int("campaignID", campaignID))
		return
	}
	if closed {
		result.CampaignClosed = true
		result.CampaignStatus = status
	}
}

// parseEventTime accepts unix seconds, unix milliseconds or RFC3339 and falls back to now
func parseEventTime(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
			return now
		}
		if n >= 1e12 {
			return time.UnixMilli(int64(n)).UTC()
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return now
}
