package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Message is the database model for per-recipient campaign messages
type Message struct {
	ID              int        `gorm:"primaryKey"`
	CampaignID      int        `gorm:"column:campaign_id;uniqueIndex:idx_campaign_recipient,priority:1;index:idx_campaign_due,priority:1"`
	RecipientPhone  string     `gorm:"column:recipient_phone;size:32;uniqueIndex:idx_campaign_recipient,priority:2"`
	RecipientName   string     `gorm:"column:recipient_name;size:255"`
	RecipientFields string     `gorm:"column:recipient_fields;type:text"`
	RenderedContent string     `gorm:"column:rendered_content;type:text"`
	Status          string     `gorm:"column:status;size:16;index:idx_campaign_due,priority:2"`
	ExternalID      *string    `gorm:"column:external_id;size:128;index"`
	RetryCount      int        `gorm:"column:retry_count;default:0"`
	NextRetryAt     *time.Time `gorm:"column:next_retry_at;index:idx_campaign_due,priority:3"`
	ErrorMessage    string     `gorm:"column:error_message;type:text"`
	ErrorKind       string     `gorm:"column:error_kind;size:16"`
	SentAt          *time.Time `gorm:"column:sent_at"`
	DeliveredAt     *time.Time `gorm:"column:delivered_at"`
	ReadAt          *time.Time `gorm:"column:read_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (Message) TableName() string {
	return "campaign_messages"
}

type MessageRepository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewMessageRepository(db *gorm.DB, loggerInstance *logger.Logger) domainCampaign.MessageRepository {
	return &MessageRepository{DB: db, Logger: loggerInstance}
}

// InsertPending creates pending rows, silently skipping recipients the
// campaign already has. Returns the number of rows actually inserted.
func (r *MessageRepository) InsertPending(messages []domainCampaign.Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	models := make([]Message, len(messages))
	for i := range messages {
		messages[i].Status = domainCampaign.MessagePending
		models[i] = *messageFromDomainMapper(&messages[i])
	}

	res := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "recipient_phone"}},
		DoNothing: true,
	}).CreateInBatches(&models, 500)
	if res.Error != nil {
		r.Logger.Error("Error inserting pending messages", zap.Error(res.Error), zap.Int("count", len(messages)))
		return 0, domainErrors.NewAppError(res.Error, domainErrors.PersistenceError)
	}

	r.Logger.Info("Inserted pending messages",
		zap.Int("campaignID", messages[0].CampaignID),
		zap.Int("requested", len(messages)),
		zap.Int64("inserted", res.RowsAffected))
	return int(res.RowsAffected), nil
}

func (r *MessageRepository) CountByCampaign(campaignID int) (int, error) {
	var count int64
	if err := r.DB.Model(&Message{}).Where("campaign_id = ?", campaignID).Count(&count).Error; err != nil {
		r.Logger.Error("Error counting campaign messages", zap.Error(err), zap.Int("campaignID", campaignID))
		return 0, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return int(count), nil
}

func (r *MessageRepository) GetByID(id int) (*domainCampaign.Message, error) {
	var model Message
	if err := r.DB.Where("id = ?", id).First(&model).Error; err != nil {
		return nil, r.lookupError(err, zap.Int("id", id))
	}
	return model.toDomainMapper(), nil
}

func (r *MessageRepository) GetByExternalID(externalID string) (*domainCampaign.Message, error) {
	var model Message
	if err := r.DB.Where("external_id = ?", externalID).First(&model).Error; err != nil {
		return nil, r.lookupError(err, zap.String("externalID", externalID))
	}
	return model.toDomainMapper(), nil
}

// FetchDueBatch returns up to limit messages that are pending or failed with
// a retry due, oldest first.
func (r *MessageRepository) FetchDueBatch(campaignID int, now time.Time, maxRetries int, limit int) (*[]domainCampaign.Message, error) {
	var models []Message

	due := r.DB.Where("status = ?", string(domainCampaign.MessagePending)).
		Or("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND retry_count < ?",
			string(domainCampaign.MessageFailed), now, maxRetries)

	err := r.DB.Where("campaign_id = ?", campaignID).
		Where(due).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		r.Logger.Error("Error fetching due messages", zap.Error(err), zap.Int("campaignID", campaignID))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}

	r.Logger.Debug("Fetched due messages", zap.Int("campaignID", campaignID), zap.Int("count", len(models)))
	return messageArrayToDomainMapper(&models), nil
}

func (r *MessageRepository) MarkSent(id int, expected domainCampaign.MessageStatus, result domainCampaign.SendResult) error {
	return r.conditionalUpdate(id, expected, map[string]interface{}{
		"status":           string(domainCampaign.MessageSent),
		"external_id":      result.ExternalID,
		"rendered_content": result.RenderedContent,
		"sent_at":          result.SentAt,
		"next_retry_at":    nil,
		"error_message":    "",
		"error_kind":       "",
	})
}

func (r *MessageRepository) MarkFailed(id int, expected domainCampaign.MessageStatus, update domainCampaign.FailureUpdate) error {
	return r.conditionalUpdate(id, expected, map[string]interface{}{
		"status":           string(domainCampaign.MessageFailed),
		"rendered_content": update.RenderedContent,
		"retry_count":      update.RetryCount,
		"next_retry_at":    update.NextRetryAt,
		"error_message":    update.ErrorMessage,
		"error_kind":       update.ErrorKind,
	})
}

func (r *MessageRepository) ApplyDeliveryStatus(id int, expected domainCampaign.MessageStatus, to domainCampaign.MessageStatus, at time.Time, errorMessage string) error {
	updates := map[string]interface{}{
		"status": string(to),
	}
	switch to {
	case domainCampaign.MessageDelivered:
		updates["delivered_at"] = at
	case domainCampaign.MessageRead:
		updates["read_at"] = at
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", at)
	case domainCampaign.MessageFailed:
		updates["error_message"] = errorMessage
		updates["error_kind"] = string(domainCampaign.FailurePermanent)
		updates["next_retry_at"] = nil
	}
	return r.conditionalUpdate(id, expected, updates)
}

// conditionalUpdate applies updates only while the row is still in expected
func (r *MessageRepository) conditionalUpdate(id int, expected domainCampaign.MessageStatus, updates map[string]interface{}) error {
	res := r.DB.Model(&Message{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)
	if res.Error != nil {
		r.Logger.Error("Error updating message", zap.Error(res.Error), zap.Int("id", id))
		return domainErrors.NewAppError(res.Error, domainErrors.PersistenceError)
	}
	if res.RowsAffected == 0 {
		r.Logger.Debug("Message update lost compare-and-swap", zap.Int("id", id), zap.String("expected", string(expected)))
		return domainErrors.NewAppError(
			fmt.Errorf("message %d is no longer %s", id, expected),
			domainErrors.ConflictError)
	}
	return nil
}

type statusCountRow struct {
	Status    string
	Retryable int
	Total     int
}

// CountByStatus groups a campaign's messages by status, splitting failed rows
// into retry-eligible and permanently failed.
func (r *MessageRepository) CountByStatus(campaignID int, maxRetries int) (*domainCampaign.StatusCounts, error) {
	var rows []statusCountRow
	err := r.DB.Model(&Message{}).
		Select("status, CASE WHEN status = ? AND next_retry_at IS NOT NULL AND retry_count < ? THEN 1 ELSE 0 END AS retryable, COUNT(*) AS total",
			string(domainCampaign.MessageFailed), maxRetries).
		Where("campaign_id = ?", campaignID).
		Group("status, retryable").
		Scan(&rows).Error
	if err != nil {
		r.Logger.Error("Error counting messages by status", zap.Error(err), zap.Int("campaignID", campaignID))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}

	counts := &domainCampaign.StatusCounts{}
	for _, row := range rows {
		switch domainCampaign.MessageStatus(row.Status) {
		case domainCampaign.MessagePending:
			counts.Pending += row.Total
		case domainCampaign.MessageSent:
			counts.Sent += row.Total
		case domainCampaign.MessageDelivered:
			counts.Delivered += row.Total
		case domainCampaign.MessageRead:
			counts.Read += row.Total
		case domainCampaign.MessageFailed:
			if row.Retryable == 1 {
				counts.Retrying += row.Total
			} else {
				counts.Failed += row.Total
			}
		}
	}
	return counts, nil
}

func (r *MessageRepository) RecentFailures(campaignID int, limit int) (*[]domainCampaign.Message, error) {
	var models []Message
	err := r.DB.Where("campaign_id = ? AND status = ? AND error_message <> ''", campaignID, string(domainCampaign.MessageFailed)).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		r.Logger.Error("Error getting recent failures", zap.Error(err), zap.Int("campaignID", campaignID))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return messageArrayToDomainMapper(&models), nil
}

func (r *MessageRepository) lookupError(err error, field zap.Field) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.Logger.Debug("Message not found", field)
		return domainErrors.NewAppErrorWithType(domainErrors.NotFound)
	}
	r.Logger.Error("Error getting message", zap.Error(err), field)
	return domainErrors.NewAppError(err, domainErrors.PersistenceError)
}

// Mappers
func (m *Message) toDomainMapper() *domainCampaign.Message {
	fields := map[string]string{}
	if m.RecipientFields != "" {
		_ = json.Unmarshal([]byte(m.RecipientFields), &fields)
	}
	return &domainCampaign.Message{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		RecipientPhone:  m.RecipientPhone,
		RecipientName:   m.RecipientName,
		RecipientFields: fields,
		RenderedContent: m.RenderedContent,
		Status:          domainCampaign.MessageStatus(m.Status),
		ExternalID:      m.ExternalID,
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		ErrorMessage:    m.ErrorMessage,
		ErrorKind:       m.ErrorKind,
		SentAt:          m.SentAt,
		DeliveredAt:     m.DeliveredAt,
		ReadAt:          m.ReadAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func messageFromDomainMapper(m *domainCampaign.Message) *Message {
	fields := ""
	if len(m.RecipientFields) > 0 {
		raw, _ := json.Marshal(m.RecipientFields)
		fields = string(raw)
	}
	return &Message{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		RecipientPhone:  m.RecipientPhone,
		RecipientName:   m.RecipientName,
		RecipientFields: fields,
		RenderedContent: m.RenderedContent,
		Status:          string(m.Status),
		ExternalID:      m.ExternalID,
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		ErrorMessage:    m.ErrorMessage,
		ErrorKind:       m.ErrorKind,
		SentAt:          m.SentAt,
		DeliveredAt:     m.DeliveredAt,
		ReadAt:          m.ReadAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func messageArrayToDomainMapper(models *[]Message) *[]domainCampaign.Message {
	out := make([]domainCampaign.Message, len(*models))
	for i, m := range *models {
		out[i] = *m.toDomainMapper()
	}
	return &out
}
