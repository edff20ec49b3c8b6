package campaign

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	"go-campaign-dispatch/src/infrastructure/events"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/messaging"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// CreateCampaignRequest holds the fields accepted when defining a campaign
type CreateCampaignRequest struct {
	Name                string
	MessageTemplate     string
	MessageDelaySeconds int
	ContactIDs          []int
	ListIDs             []int
}

// StartResult is returned by StartProcessing
type StartResult struct {
	CampaignID int                   `json:"campaignId"`
	Status     domainCampaign.Status `json:"status"`
	Recipients int                   `json:"recipients"`
}

// SendMessagesResult is returned by SendMessages
type SendMessagesResult struct {
	messaging.TickResult
	DispatcherRunning bool `json:"dispatcherRunning"`
	Attached          bool `json:"attached"`
}

// ErrorSample is a recent failure shown alongside realtime stats
type ErrorSample struct {
	MessageID      int       `json:"messageId"`
	RecipientPhone string    `json:"recipientPhone"`
	ErrorMessage   string    `json:"errorMessage"`
	ErrorKind      string    `json:"errorKind"`
	RetryCount     int       `json:"retryCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RealtimeStats is the progress view of one campaign
type RealtimeStats struct {
	CampaignID   int                   `json:"campaignId"`
	Status       domainCampaign.Status `json:"status"`
	StartedAt    *time.Time            `json:"startedAt"`
	CompletedAt  *time.Time            `json:"completedAt"`
	Stats        domainCampaign.Stats  `json:"stats"`
	RecentErrors []ErrorSample         `json:"recentErrors"`
}

// DispatchSupervisor is the part of the supervisor the use case drives
type DispatchSupervisor interface {
	Start(campaignID int) bool
	Stop(campaignID int) <-chan struct{}
	IsRunning(campaignID int) bool
	RunOnce(ctx context.Context, campaignID int, fn func(ctx context.Context) error) (bool, error)
}

// BatchTicker processes a single batch of a campaign
type BatchTicker interface {
	Tick(ctx context.Context, campaignID int) (*messaging.TickResult, error)
}

// Options tunes the use case
type Options struct {
	MaxRetries   int
	StatsTTL     time.Duration
	ErrorSamples int
}

// ICampaignUseCase defines the campaign operations exposed over REST
type ICampaignUseCase interface {
	Create(request *CreateCampaignRequest) (*domainCampaign.Campaign, error)
	List(filter domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error)
	GetByID(id int) (*domainCampaign.Campaign, error)
	MaterializeRecipients(id int) (int, error)
	StartProcessing(ctx context.Context, id int) (*StartResult, error)
	SendMessages(ctx context.Context, id int) (*SendMessagesResult, error)
	Cancel(ctx context.Context, id int) (*domainCampaign.Campaign, error)
	GetRealtimeStats(id int) (*RealtimeStats, error)
	GetMessageHistory(campaignID int, messageID int) (*[]domainCampaign.StatusChange, error)
	Delete(id int) error
	InvalidateStats(id int)
}

// CampaignUseCase implements ICampaignUseCase
type CampaignUseCase struct {
	campaignRepository      domainCampaign.CampaignRepository
	messageRepository       domainCampaign.MessageRepository
	statusHistoryRepository domainCampaign.StatusHistoryRepository
	contactRepository       domainCampaign.ContactRepository
	supervisor              DispatchSupervisor
	ticker                  BatchTicker
	publisher               events.Publisher
	statsCache              *gocache.Cache
	options                 Options
	now                     func() time.Time
	Logger                  *logger.Logger
}

func NewCampaignUseCase(
	campaignRepository domainCampaign.CampaignRepository,
	messageRepository domainCampaign.MessageRepository,
	statusHistoryRepository domainCampaign.StatusHistoryRepository,
	contactRepository domainCampaign.ContactRepository,
	supervisor DispatchSupervisor,
	ticker BatchTicker,
	publisher events.Publisher,
	options Options,
	loggerInstance *logger.Logger,
) *CampaignUseCase {
	if options.MaxRetries <= 0 {
		options.MaxRetries = domainCampaign.DefaultMaxRetries
	}
	if options.ErrorSamples <= 0 {
		options.ErrorSamples = 5
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	var statsCache *gocache.Cache
	if options.StatsTTL > 0 {
		statsCache = gocache.New(options.StatsTTL, 10*options.StatsTTL)
	}

	return &CampaignUseCase{
		campaignRepository:      campaignRepository,
		messageRepository:       messageRepository,
		statusHistoryRepository: statusHistoryRepository,
		contactRepository:       contactRepository,
		supervisor:              supervisor,
		ticker:                  ticker,
		publisher:               publisher,
		statsCache:              statsCache,
		options:                 options,
		now:                     time.Now,
		Logger:                  loggerInstance,
	}
}

func validationError(msg string) error {
	return domainErrors.NewAppError(errors.New(msg), domainErrors.ValidationError)
}

func (u *CampaignUseCase) Create(request *CreateCampaignRequest) (*domainCampaign.Campaign, error) {
	if strings.TrimSpace(request.Name) == "" {
		return nil, validationError("campaign name is required")
	}
	if strings.TrimSpace(request.MessageTemplate) == "" {
		return nil, validationError("message template is required")
	}
	if request.MessageDelaySeconds < 0 {
		return nil, validationError("message delay must not be negative")
	}
	if len(request.ContactIDs) == 0 && len(request.ListIDs) == 0 {
		return nil, validationError("at least one contact or contact list is required")
	}

	contacts, err := u.contactRepository.ResolveTargets(request.ContactIDs, request.ListIDs)
	if err != nil {
		return nil, err
	}
	if len(recipientsFromContacts(0, *contacts)) == 0 {
		return nil, validationError("target set does not contain any contact with a phone number")
	}

	created, err := u.campaignRepository.Create(&domainCampaign.Campaign{
		Name:                strings.TrimSpace(request.Name),
		MessageTemplate:     request.MessageTemplate,
		MessageDelaySeconds: request.MessageDelaySeconds,
		Status:              domainCampaign.StatusDraft,
		TargetContactIDs:    request.ContactIDs,
		TargetListIDs:       request.ListIDs,
	})
	if err != nil {
		return nil, err
	}
	u.Logger.Info("Campaign created", zap.Int("campaignID", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (u *CampaignUseCase) List(filter domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error) {
	return u.campaignRepository.List(filter)
}

func (u *CampaignUseCase) GetByID(id int) (*domainCampaign.Campaign, error) {
	return u.campaignRepository.GetByID(id)
}

// recipientsFromContacts turns contacts into pending messages, one per normalized phone
func recipientsFromContacts(campaignID int, contacts []domainCampaign.Contact) []domainCampaign.Message {
	seen := make(map[string]bool, len(contacts))
	messages := make([]domainCampaign.Message, 0, len(contacts))
	for _, c := range contacts {
		phone := domainCampaign.NormalizePhone(c.Phone)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		messages = append(messages, domainCampaign.Message{
			CampaignID:      campaignID,
			RecipientPhone:  phone,
			RecipientName:   c.Name,
			RecipientFields: c.Fields,
			Status:          domainCampaign.MessagePending,
		})
	}
	return messages
}

// MaterializeRecipients expands the target set into pending messages. It is
// idempotent and returns the total number of messages the campaign has.
func (u *CampaignUseCase) MaterializeRecipients(id int) (int, error) {
	campaign, err := u.campaignRepository.GetByID(id)
	if err != nil {
		return 0, err
	}

	contacts, err := u.contactRepository.ResolveTargets(campaign.TargetContactIDs, campaign.TargetListIDs)
	if err != nil {
		return 0, err
	}
	inserted, err := u.messageRepository.InsertPending(recipientsFromContacts(id, *contacts))
	if err != nil {
		return 0, err
	}
	if err := u.campaignRepository.MarkRecipientsMaterialized(id); err != nil {
		return 0, err
	}

	total, err := u.messageRepository.CountByCampaign(id)
	if err != nil {
		return 0, err
	}
	u.Logger.Info("Recipients materialized", zap.Int("campaignID", id), zap.Int("inserted", inserted), zap.Int("total", total))
	return total, nil
}

// StartProcessing materializes recipients if needed, moves the campaign to
// in_progress and hands it to the supervisor.
func (u *CampaignUseCase) StartProcessing(ctx context.Context, id int) (*StartResult, error) {
	campaign, err := u.campaignRepository.GetByID(id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domainCampaign.StatusDraft {
		return nil, domainErrors.NewAppError(
			errors.New("campaign "+strconv.Itoa(id)+" is "+string(campaign.Status)+", only draft campaigns can be started"),
			domainErrors.ConflictError)
	}

	var recipients int
	if campaign.RecipientsMaterialized {
		recipients, err = u.messageRepository.CountByCampaign(id)
	} else {
		recipients, err = u.MaterializeRecipients(id)
	}
	if err != nil {
		return nil, err
	}
	if recipients == 0 {
		return nil, validationError("campaign has no recipients")
	}

	if err := u.campaignRepository.TransitionStatus(id, domainCampaign.StatusDraft, domainCampaign.StatusInProgress, u.now()); err != nil {
		return nil, err
	}
	u.InvalidateStats(id)
	if !u.supervisor.Start(id) {
		u.Logger.Warn("Dispatcher not started, another one owns the campaign", zap.Int("campaignID", id))
	}

	event := events.Event{Type: events.CampaignStarted, CampaignID: id, Status: domainCampaign.StatusInProgress, OccurredAt: u.now().UTC()}
	if err := u.publisher.Publish(ctx, event); err != nil {
		u.Logger.Warn("Failed to publish campaign started event", zap.Error(err), zap.Int("campaignID", id))
	}

	u.Logger.Info("Campaign processing started", zap.Int("campaignID", id), zap.Int("recipients", recipients))
	return &StartResult{CampaignID: id, Status: domainCampaign.StatusInProgress, Recipients: recipients}, nil
}

// SendMessages processes one batch unless a dispatcher already owns the
// campaign, then re-attaches a supervised dispatcher if work remains.
func (u *CampaignUseCase) SendMessages(ctx context.Context, id int) (*SendMessagesResult, error) {
	campaign, err := u.campaignRepository.GetByID(id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domainCampaign.StatusInProgress {
		return nil, domainErrors.NewAppError(
			errors.New("campaign "+strconv.Itoa(id)+" is "+string(campaign.Status)+", not in_progress"),
			domainErrors.ConflictError)
	}

	// the tick holds the dispatcher slot so a resume or start cannot send the same rows
	var tick *messaging.TickResult
	ran, err := u.supervisor.RunOnce(ctx, id, func(runCtx context.Context) error {
		var tickErr error
		tick, tickErr = u.ticker.Tick(runCtx, id)
		return tickErr
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		return &SendMessagesResult{
			TickResult:        messaging.TickResult{Status: campaign.Status},
			DispatcherRunning: true,
		}, nil
	}
	result := &SendMessagesResult{TickResult: *tick}
	if tick.Closed {
		u.InvalidateStats(id)
		return result, nil
	}
	if tick.Status == domainCampaign.StatusInProgress {
		result.Attached = u.supervisor.Start(id)
		result.DispatcherRunning = result.Attached || u.supervisor.IsRunning(id)
	}
	return result, nil
}

// Cancel returns an in_progress campaign to draft and stops its dispatcher,
// waiting for it to exit until ctx ends. Messages already sent stay sent; a
// later start resumes the rest.
func (u *CampaignUseCase) Cancel(ctx context.Context, id int) (*domainCampaign.Campaign, error) {
	if err := u.campaignRepository.TransitionStatus(id, domainCampaign.StatusInProgress, domainCampaign.StatusDraft, u.now()); err != nil {
		return nil, err
	}
	if done := u.supervisor.Stop(id); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			u.Logger.Warn("Cancelled campaign's dispatcher still finishing in-flight sends", zap.Int("campaignID", id))
		}
	}
	u.InvalidateStats(id)
	u.Logger.Info("Campaign cancelled", zap.Int("campaignID", id))
	return u.campaignRepository.GetByID(id)
}

func (u *CampaignUseCase) GetRealtimeStats(id int) (*RealtimeStats, error) {
	key := strconv.Itoa(id)
	if u.statsCache != nil {
		if cached, ok := u.statsCache.Get(key); ok {
			return cached.(*RealtimeStats), nil
		}
	}

	campaign, err := u.campaignRepository.GetByID(id)
	if err != nil {
		return nil, err
	}
	counts, err := u.messageRepository.CountByStatus(id, u.options.MaxRetries)
	if err != nil {
		return nil, err
	}
	failures, err := u.messageRepository.RecentFailures(id, u.options.ErrorSamples)
	if err != nil {
		return nil, err
	}

	samples := make([]ErrorSample, 0, len(*failures))
	for _, m := range *failures {
		samples = append(samples, ErrorSample{
			MessageID:      m.ID,
			RecipientPhone: m.RecipientPhone,
			ErrorMessage:   m.ErrorMessage,
			ErrorKind:      m.ErrorKind,
			RetryCount:     m.RetryCount,
			UpdatedAt:      m.UpdatedAt,
		})
	}

	stats := &RealtimeStats{
		CampaignID:   id,
		Status:       campaign.Status,
		StartedAt:    campaign.StartedAt,
		CompletedAt:  campaign.CompletedAt,
		Stats:        domainCampaign.ComputeStats(*counts, campaign.StartedAt, u.now()),
		RecentErrors: samples,
	}
	if u.statsCache != nil {
		u.statsCache.Set(key, stats, gocache.DefaultExpiration)
	}
	return stats, nil
}

// InvalidateStats drops the cached stats of a campaign
func (u *CampaignUseCase) InvalidateStats(id int) {
	if u.statsCache != nil {
		u.statsCache.Delete(strconv.Itoa(id))
	}
}

func (u *CampaignUseCase) GetMessageHistory(campaignID int, messageID int) (*[]domainCampaign.StatusChange, error) {
	message, err := u.messageRepository.GetByID(messageID)
	if err != nil {
		return nil, err
	}
	if message.CampaignID != campaignID {
		return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
	}
	return u.statusHistoryRepository.GetByMessageID(messageID)
}

func (u *CampaignUseCase) Delete(id int) error {
	if err := u.campaignRepository.Delete(id); err != nil {
		return err
	}
	u.InvalidateStats(id)
	u.Logger.Info("Campaign deleted", zap.Int("campaignID", id))
	return nil
}
