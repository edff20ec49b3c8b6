package campaign

import (
	"time"
)

// Status is the aggregate lifecycle state of a campaign
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusPartial    Status = "partial"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	// StatusCompleted is only ever read from older rows; closeout writes sent, partial or failed.
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether the campaign has been closed out
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPartial, StatusSent, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// Campaign represents a bulk-send job targeting a recipient set with one message template
type Campaign struct {
	ID                     int
	Name                   string
	MessageTemplate        string
	MessageDelaySeconds    int
	Status                 Status
	TargetContactIDs       []int
	TargetListIDs          []int
	RecipientsMaterialized bool
	StartedAt              *time.Time
	CompletedAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Message represents one per-recipient unit of work within a campaign
type Message struct {
	ID              int
	CampaignID      int
	RecipientPhone  string
	RecipientName   string
	RecipientFields map[string]string // extra template fields captured from the contact
	RenderedContent string
	Status          MessageStatus
	ExternalID      *string // provider message id, set once the send is accepted
	RetryCount      int
	NextRetryAt     *time.Time // non-nil only while the message is eligible for another attempt
	ErrorMessage    string
	ErrorKind       string
	SentAt          *time.Time
	DeliveredAt     *time.Time
	ReadAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Contact is a read-only view over the external contact directory
type Contact struct {
	ID     int
	Name   string
	Phone  string
	Fields map[string]string
}

// StatusChange records one applied transition of a message
type StatusChange struct {
	ID           int
	MessageID    int
	CampaignID   int
	FromStatus   MessageStatus
	ToStatus     MessageStatus
	Source       string // dispatcher, webhook
	ExternalID   string
	ErrorMessage string
	OccurredAt   time.Time
}

const (
	SourceDispatcher = "dispatcher"
	SourceWebhook    = "webhook"
)

// SendResult is written when the provider accepts a message
type SendResult struct {
	ExternalID      string
	RenderedContent string
	SentAt          time.Time
}

// FailureUpdate is written when a send attempt fails
type FailureUpdate struct {
	RenderedContent string
	RetryCount      int
	NextRetryAt     *time.Time
	ErrorMessage    string
	ErrorKind       string
}

// StatusCounts holds per-status message counts for one campaign.
// Retrying counts failed rows that are still eligible for another attempt; Failed excludes them.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Retrying  int `json:"retrying"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

func (c StatusCounts) Total() int {
	return c.Pending + c.Retrying + c.Sent + c.Delivered + c.Read + c.Failed
}

// Outstanding is the number of messages the dispatcher may still attempt
func (c StatusCounts) Outstanding() int {
	return c.Pending + c.Retrying
}

// ListFilter is used to page through campaigns
type ListFilter struct {
	Status   Status
	Page     int
	PageSize int
}

type SearchResultCampaign struct {
	Data       *[]Campaign
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}
