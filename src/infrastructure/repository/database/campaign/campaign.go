package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Campaign is the database model for campaigns
type Campaign struct {
	ID                     int        `gorm:"primaryKey"`
	Name                   string     `gorm:"column:name;size:255"`
	MessageTemplate        string     `gorm:"column:message_template;type:text"`
	MessageDelaySeconds    int        `gorm:"column:message_delay_seconds;default:0"`
	Status                 string     `gorm:"column:status;size:32;index"`
	TargetContactIDs       string     `gorm:"column:target_contact_ids;type:text"`
	TargetListIDs          string     `gorm:"column:target_list_ids;type:text"`
	RecipientsMaterialized bool       `gorm:"column:recipients_materialized;default:false"`
	StartedAt              *time.Time `gorm:"column:started_at"`
	CompletedAt            *time.Time `gorm:"column:completed_at"`
	CreatedAt              time.Time  `gorm:"column:created_at"`
	UpdatedAt              time.Time  `gorm:"column:updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

type CampaignRepository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewCampaignRepository(db *gorm.DB, loggerInstance *logger.Logger) domainCampaign.CampaignRepository {
	return &CampaignRepository{DB: db, Logger: loggerInstance}
}

func (r *CampaignRepository) Create(campaignDomain *domainCampaign.Campaign) (*domainCampaign.Campaign, error) {
	r.Logger.Info("Creating new campaign", zap.String("name", campaignDomain.Name))
	model := campaignFromDomainMapper(campaignDomain)
	if err := r.DB.Create(model).Error; err != nil {
		r.Logger.Error("Error creating campaign", zap.Error(err), zap.String("name", campaignDomain.Name))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	r.Logger.Info("Successfully created campaign", zap.Int("id", model.ID))
	return model.toDomainMapper(), nil
}

func (r *CampaignRepository) GetByID(id int) (*domainCampaign.Campaign, error) {
	var model Campaign
	err := r.DB.Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.Logger.Warn("Campaign not found", zap.Int("id", id))
			return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
		}
		r.Logger.Error("Error getting campaign by ID", zap.Error(err), zap.Int("id", id))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return model.toDomainMapper(), nil
}

func (r *CampaignRepository) List(filter domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error) {
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := func() *gorm.DB {
		q := r.DB.Model(&Campaign{})
		if filter.Status != "" {
			q = q.Where("status = ?", string(filter.Status))
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		r.Logger.Error("Error counting campaigns", zap.Error(err))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}

	var models []Campaign
	if err := query().Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&models).Error; err != nil {
		r.Logger.Error("Error listing campaigns", zap.Error(err))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}

	return &domainCampaign.SearchResultCampaign{
		Data:       campaignArrayToDomainMapper(&models),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (r *CampaignRepository) ListByStatus(status domainCampaign.Status) (*[]domainCampaign.Campaign, error) {
	var models []Campaign
	if err := r.DB.Where("status = ?", string(status)).Order("id ASC").Find(&models).Error; err != nil {
		r.Logger.Error("Error listing campaigns by status", zap.Error(err), zap.String("status", string(status)))
		return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return campaignArrayToDomainMapper(&models), nil
}

// TransitionStatus moves a campaign from one status to another only if it is
// still in `from`. A lost race returns a ConflictError.
func (r *CampaignRepository) TransitionStatus(id int, from domainCampaign.Status, to domainCampaign.Status, at time.Time) error {
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": at,
	}
	if to == domainCampaign.StatusInProgress {
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", at)
	}
	if to.IsTerminal() {
		updates["completed_at"] = at
	}

	res := r.DB.Model(&Campaign{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		r.Logger.Error("Error transitioning campaign status", zap.Error(res.Error), zap.Int("id", id))
		return domainErrors.NewAppError(res.Error, domainErrors.PersistenceError)
	}
	if res.RowsAffected == 0 {
		current, err := r.GetByID(id)
		if err != nil {
			return err
		}
		r.Logger.Warn("Campaign status transition lost",
			zap.Int("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("current", string(current.Status)))
		return domainErrors.NewAppError(
			fmt.Errorf("campaign %d is %s, expected %s", id, current.Status, from),
			domainErrors.ConflictError)
	}

	r.Logger.Info("Campaign status transitioned",
		zap.Int("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (r *CampaignRepository) MarkRecipientsMaterialized(id int) error {
	err := r.DB.Model(&Campaign{}).Where("id = ?", id).Update("recipients_materialized", true).Error
	if err != nil {
		r.Logger.Error("Error marking recipients materialized", zap.Error(err), zap.Int("id", id))
		return domainErrors.NewAppError(err, domainErrors.PersistenceError)
	}
	return nil
}

// Delete removes a campaign with its messages and history. Campaigns that
// are currently sending are refused with a ConflictError.
func (r *CampaignRepository) Delete(id int) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status <> ?", id, string(domainCampaign.StatusInProgress)).Delete(&Campaign{})
		if res.Error != nil {
			r.Logger.Error("Error deleting campaign", zap.Error(res.Error), zap.Int("id", id))
			return domainErrors.NewAppError(res.Error, domainErrors.PersistenceError)
		}
		if res.RowsAffected == 0 {
			var existing Campaign
			if err := tx.Where("id = ?", id).First(&existing).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainErrors.NewAppErrorWithType(domainErrors.NotFound)
				}
				return domainErrors.NewAppError(err, domainErrors.PersistenceError)
			}
			return domainErrors.NewAppError(
				fmt.Errorf("campaign %d is %s and cannot be deleted", id, existing.Status),
				domainErrors.ConflictError)
		}

		if err := tx.Where("campaign_id = ?", id).Delete(&MessageStatusHistory{}).Error; err != nil {
			return domainErrors.NewAppError(err, domainErrors.PersistenceError)
		}
		if err := tx.Where("campaign_id = ?", id).Delete(&Message{}).Error; err != nil {
			return domainErrors.NewAppError(err, domainErrors.PersistenceError)
		}

		r.Logger.Info("Successfully deleted campaign", zap.Int("id", id))
		return nil
	})
}

// Mappers
func (c *Campaign) toDomainMapper() *domainCampaign.Campaign {
	return &domainCampaign.Campaign{
		ID:                     c.ID,
		Name:                   c.Name,
		MessageTemplate:        c.MessageTemplate,
		MessageDelaySeconds:    c.MessageDelaySeconds,
		Status:                 domainCampaign.Status(c.Status),
		TargetContactIDs:       decodeIDs(c.TargetContactIDs),
		TargetListIDs:          decodeIDs(c.TargetListIDs),
		RecipientsMaterialized: c.RecipientsMaterialized,
		StartedAt:              c.StartedAt,
		CompletedAt:            c.CompletedAt,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func campaignFromDomainMapper(c *domainCampaign.Campaign) *Campaign {
	return &Campaign{
		ID:                     c.ID,
		Name:                   c.Name,
		MessageTemplate:        c.MessageTemplate,
		MessageDelaySeconds:    c.MessageDelaySeconds,
		Status:                 string(c.Status),
		TargetContactIDs:       encodeIDs(c.TargetContactIDs),
		TargetListIDs:          encodeIDs(c.TargetListIDs),
		RecipientsMaterialized: c.RecipientsMaterialized,
		StartedAt:              c.StartedAt,
		CompletedAt:            c.CompletedAt,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func campaignArrayToDomainMapper(models *[]Campaign) *[]domainCampaign.Campaign {
	out := make([]domainCampaign.Campaign, len(*models))
	for i, m := range *models {
		out[i] = *m.toDomainMapper()
	}
	return &out
}

func encodeIDs(ids []int) string {
	if len(ids) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

func decodeIDs(raw string) []int {
	var ids []int
	if raw == "" {
		return ids
	}
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}
