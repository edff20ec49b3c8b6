package campaign

import (
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MessageStatusHistory is the database model for applied message transitions
type MessageStatusHistory struct {
	ID           int       `gorm:"primaryKey"`
	MessageID    int       `gorm:"column:message_id;index"`
	CampaignID   int       `gorm:"column:campaign_id;index"`
	FromStatus   string    `gorm:"column:from_status;size:16"`
	ToStatus     string    `gorm:"column:to_status;size:16"`
	Source       string    `gorm:"column:source;size:16"`
	ExternalID   string    `gorm:"column:external_id;size:128"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	OccurredAt   time.Time `gorm:"column:occurred_at"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (MessageStatusHistory) TableName() string {
	return "message_status_history"
}

type StatusHistoryRepository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewStatusHistoryRepository(db *gorm.DB, loggerInstance *logger.Logger) domainCampaign.StatusHistoryRepository {
	return &StatusHistoryRepository{DB: db, Logger: loggerInstance}
}

func (r *StatusHistoryRepository) Create(change *domainCampaign.StatusChange) (*domainCampaign.StatusChange, error) {
	model := statusHistoryFromDomainMapper(change)
	if err := r.DB.Create(model).Error; err != nil {
		r.Logger.Error("Error creating message status history", zap.Error(err), zap.Int("messageID", change.MessageID))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return model.toDomainMapper(), nil
}

func (r *StatusHistoryRepository) GetByMessageID(messageID int) (*[]domainCampaign.StatusChange, error) {
	var models []MessageStatusHistory
	if err := r.DB.Where("message_id = ?", messageID).Order("occurred_at ASC, id ASC").Find(&models).Error; err != nil {
		r.Logger.Error("Error getting message status history", zap.Error(err), zap.Int("messageID", messageID))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}

	out := make([]domainCampaign.StatusChange, len(models))
	for i, m := range models {
		out[i] = *m.toDomainMapper()
	}
	return &out, nil
}

func (h *MessageStatusHistory) toDomainMapper() *domainCampaign.StatusChange {
	return &domainCampaign.StatusChange{
		ID:           h.ID,
		MessageID:    h.MessageID,
		CampaignID:   h.CampaignID,
		FromStatus:   domainCampaign.MessageStatus(h.FromStatus),
		ToStatus:     domainCampaign.MessageStatus(h.ToStatus),
		Source:       h.Source,
		ExternalID:   h.ExternalID,
		ErrorMessage: h.ErrorMessage,
		OccurredAt:   h.OccurredAt,
	}
}

func statusHistoryFromDomainMapper(c *domainCampaign.StatusChange) *MessageStatusHistory {
	return &MessageStatusHistory{
		ID:           c.ID,
		MessageID:    c.MessageID,
		CampaignID:   c.CampaignID,
		FromStatus:   string(c.FromStatus),
		ToStatus:     string(c.ToStatus),
		Source:       c.Source,
		ExternalID:   c.ExternalID,
		ErrorMessage: c.ErrorMessage,
		OccurredAt:   c.OccurredAt,
	}
}
