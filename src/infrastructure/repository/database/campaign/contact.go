package campaign

import (
	"encoding/json"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Contact mirrors the contact directory table. Rows are owned by the
// contact service; this package only reads them.
type Contact struct {
	ID     int    `gorm:"primaryKey"`
	Name   string `gorm:"column:name;size:255"`
	Phone  string `gorm:"column:phone;size:32;index"`
	Fields string `gorm:"column:fields;type:text"`
}

func (Contact) TableName() string {
	return "contacts"
}

type ContactListMember struct {
	ListID    int `gorm:"column:list_id;primaryKey;autoIncrement:false"`
	ContactID int `gorm:"column:contact_id;primaryKey;autoIncrement:false;index"`
}

func (ContactListMember) TableName() string {
	return "contact_list_members"
}

type ContactRepository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewContactRepository(db *gorm.DB, loggerInstance *logger.Logger) domainCampaign.ContactRepository {
	return &ContactRepository{DB: db, Logger: loggerInstance}
}

// ResolveTargets returns the union of the explicit contacts and the members
// of the given lists, each contact at most once.
func (r *ContactRepository) ResolveTargets(contactIDs []int, listIDs []int) (*[]domainCampaign.Contact, error) {
	var direct, fromLists []Contact

	if len(contactIDs) > 0 {
		if err := r.DB.Where("id IN ?", contactIDs).Order("id ASC").Find(&direct).Error; err != nil {
			r.Logger.Error("Error resolving target contacts", zap.Error(err))
			return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
		}
	}

	if len(listIDs) > 0 {
		members := r.DB.Model(&ContactListMember{}).Select("contact_id").Where("list_id IN ?", listIDs)
		if err := r.DB.Where("id IN (?)", members).Order("id ASC").Find(&fromLists).Error; err != nil {
			r.Logger.Error("Error resolving target lists", zap.Error(err))
			return nil, domainErrors.NewAppError(err, domainErrors.PersistenceError)
		}
	}

	seen := make(map[int]bool, len(direct)+len(fromLists))
	out := make([]domainCampaign.Contact, 0, len(direct)+len(fromLists))
	for _, group := range [][]Contact{direct, fromLists} {
		for _, c := range group {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, *c.toDomainMapper())
		}
	}

	r.Logger.Info("Resolved campaign targets",
		zap.Int("contactIDs", len(contactIDs)),
		zap.Int("listIDs", len(listIDs)),
		zap.Int("contacts", len(out)))
	return &out, nil
}

func (c *Contact) toDomainMapper() *domainCampaign.Contact {
	fields := map[string]string{}
	if c.Fields != "" {
		_ = json.Unmarshal([]byte(c.Fields), &fields)
	}
	return &domainCampaign.Contact{
		ID:     c.ID,
		Name:   c.Name,
		Phone:  c.Phone,
		Fields: fields,
	}
}
