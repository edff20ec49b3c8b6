package campaign

import "time"

// CampaignRepository persists campaigns. Status changes go through
// TransitionStatus, which is a compare-and-swap on the current status.
type CampaignRepository interface {
	Create(campaign *Campaign) (*Campaign, error)
	GetByID(id int) (*Campaign, error)
	List(filter ListFilter) (*SearchResultCampaign, error)
	ListByStatus(status Status) (*[]Campaign, error)
	TransitionStatus(id int, from Status, to Status, at time.Time) error
	MarkRecipientsMaterialized(id int) error
	Delete(id int) error
}

// MessageRepository persists per-recipient messages. Every status write is
// conditional on the status the caller last observed and returns a
// ConflictError when another writer got there first.
type MessageRepository interface {
	InsertPending(messages []Message) (int, error)
	CountByCampaign(campaignID int) (int, error)
	GetByID(id int) (*Message, error)
	GetByExternalID(externalID string) (*Message, error)
	FetchDueBatch(campaignID int, now time.Time, maxRetries int, limit int) (*[]Message, error)
	MarkSent(id int, expected MessageStatus, result SendResult) error
	MarkFailed(id int, expected MessageStatus, update FailureUpdate) error
	ApplyDeliveryStatus(id int, expected MessageStatus, to MessageStatus, at time.Time, errorMessage string) error
	CountByStatus(campaignID int, maxRetries int) (*StatusCounts, error)
	RecentFailures(campaignID int, limit int) (*[]Message, error)
}

// StatusHistoryRepository keeps an append-only trail of applied message transitions
type StatusHistoryRepository interface {
	Create(change *StatusChange) (*StatusChange, error)
	GetByMessageID(messageID int) (*[]StatusChange, error)
}

// ContactRepository resolves a campaign target set against the contact directory
type ContactRepository interface {
	ResolveTargets(contactIDs []int, listIDs []int) (*[]Contact, error)
}
