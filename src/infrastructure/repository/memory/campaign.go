package memory

import (
	"sort"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
)

// CampaignRepository is the in-memory domainCampaign.CampaignRepository
type CampaignRepository struct {
	store *Store
}

func NewCampaignRepository(store *Store) domainCampaign.CampaignRepository {
	return &CampaignRepository{store: store}
}

func (r *CampaignRepository) Create(campaign *domainCampaign.Campaign) (*domainCampaign.Campaign, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCampaign++
	c := copyCampaign(campaign)
	c.ID = s.nextCampaign
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.campaigns[c.ID] = c
	return copyCampaign(c), nil
}

func (r *CampaignRepository) GetByID(id int) (*domainCampaign.Campaign, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, notFound()
	}
	return copyCampaign(c), nil
}

func (r *CampaignRepository) List(filter domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var all []domainCampaign.Campaign
	for _, c := range s.campaigns {
		if filter.Status == "" || c.Status == filter.Status {
			all = append(all, *copyCampaign(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	data := append([]domainCampaign.Campaign(nil), all[start:end]...)

	return &domainCampaign.SearchResultCampaign{
		Data:       &data,
		Total:      int64(len(all)),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(int64(len(all)), pageSize),
	}, nil
}

func (r *CampaignRepository) ListByStatus(status domainCampaign.Status) (*[]domainCampaign.Campaign, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domainCampaign.Campaign
	for _, c := range s.campaigns {
		if c.Status == status {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &out, nil
}

func (r *CampaignRepository) TransitionStatus(id int, from domainCampaign.Status, to domainCampaign.Status, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return notFound()
	}
	if c.Status != from {
		return conflict("campaign %d is %s, expected %s", id, c.Status, from)
	}

	c.Status = to
	c.UpdatedAt = at
	if to == domainCampaign.StatusInProgress && c.StartedAt == nil {
		started := at
		c.StartedAt = &started
	}
	if to.IsTerminal() {
		completed := at
		c.CompletedAt = &completed
	}
	return nil
}

func (r *CampaignRepository) MarkRecipientsMaterialized(id int) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return notFound()
	}
	c.RecipientsMaterialized = true
	return nil
}

func (r *CampaignRepository) Delete(id int) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return notFound()
	}
	if c.Status == domainCampaign.StatusInProgress {
		return conflict("campaign %d is %s and cannot be deleted", id, c.Status)
	}

	delete(s.campaigns, id)
	for msgID, m := range s.messages {
		if m.CampaignID == id {
			delete(s.messages, msgID)
		}
	}
	kept := s.history[:0]
	for _, h := range s.history {
		if h.CampaignID != id {
			kept = append(kept, h)
		}
	}
	s.history = kept
	return nil
}
