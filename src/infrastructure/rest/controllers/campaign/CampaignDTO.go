package campaign

import (
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
)

type NewCampaignRequest struct {
	Name                string `json:"name" binding:"required,max=255"`
	MessageTemplate     string `json:"messageTemplate" binding:"required"`
	MessageDelaySeconds int    `json:"messageDelaySeconds" binding:"gte=0,lte=3600"`
	ContactIDs          []int  `json:"contactIds" binding:"required_without=ListIDs"`
	ListIDs             []int  `json:"listIds" binding:"required_without=ContactIDs"`
}

type CampaignIDRequest struct {
	ID int `uri:"id" binding:"required,gt=0"`
}

type MessageHistoryRequest struct {
	ID        int `uri:"id" binding:"required,gt=0"`
	MessageID int `uri:"messageId" binding:"required,gt=0"`
}

type ListCampaignsRequest struct {
	Page     int    `form:"page" binding:"omitempty,gte=1"`
	PageSize int    `form:"pageSize" binding:"omitempty,gte=1,lte=100"`
	Status   string `form:"status" binding:"omitempty,oneof=draft in_progress partial sent failed completed"`
}

type CampaignResponse struct {
	ID                     int        `json:"id"`
	Name                   string     `json:"name"`
	MessageTemplate        string     `json:"messageTemplate"`
	MessageDelaySeconds    int        `json:"messageDelaySeconds"`
	Status                 string     `json:"status"`
	ContactIDs             []int      `json:"contactIds"`
	ListIDs                []int      `json:"listIds"`
	RecipientsMaterialized bool       `json:"recipientsMaterialized"`
	StartedAt              *time.Time `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

type PaginatedCampaignsResponse struct {
	Data       []CampaignResponse `json:"data"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
	TotalPages int                `json:"totalPages"`
}

type StatusChangeResponse struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Source       string    `json:"source"`
	ExternalID   string    `json:"externalId,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func domainToResponseMapper(c *domainCampaign.Campaign) *CampaignResponse {
	contactIDs, listIDs := c.TargetContactIDs, c.TargetListIDs
	if contactIDs == nil {
		contactIDs = []int{}
	}
	if listIDs == nil {
		listIDs = []int{}
	}
	return &CampaignResponse{
		ID:                     c.ID,
		Name:                   c.Name,
		MessageTemplate:        c.MessageTemplate,
		MessageDelaySeconds:    c.MessageDelaySeconds,
		Status:                 string(c.Status),
		ContactIDs:             contactIDs,
		ListIDs:                listIDs,
		RecipientsMaterialized: c.RecipientsMaterialized,
		StartedAt:              c.StartedAt,
		CompletedAt:            c.CompletedAt,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func searchResultToResponseMapper(result *domainCampaign.SearchResultCampaign) *PaginatedCampaignsResponse {
	data := make([]CampaignResponse, 0, len(*result.Data))
	for i := range *result.Data {
		data = append(data, *domainToResponseMapper(&(*result.Data)[i]))
	}
	return &PaginatedCampaignsResponse{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
	}
}

func historyToResponseMapper(changes *[]domainCampaign.StatusChange) []StatusChangeResponse {
	out := make([]StatusChangeResponse, 0, len(*changes))
	for _, h := range *changes {
		out = append(out, StatusChangeResponse{
			From:         string(h.FromStatus),
			To:           string(h.ToStatus),
			Source:       h.Source,
			ExternalID:   h.ExternalID,
			ErrorMessage: h.ErrorMessage,
			OccurredAt:   h.OccurredAt,
		})
	}
	return out
}
