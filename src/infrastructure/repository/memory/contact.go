package memory

import (
	"sort"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
)

type ContactRepository struct {
	store *Store
}

func NewContactRepository(store *Store) domainCampaign.ContactRepository {
	return &ContactRepository{store: store}
}

func (r *ContactRepository) ResolveTargets(contactIDs []int, listIDs []int) (*[]domainCampaign.Contact, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool)
	var out []domainCampaign.Contact
	add := func(ids []int) {
		sorted := append([]int(nil), ids...)
		sort.Ints(sorted)
		for _, id := range sorted {
			c, ok := s.contacts[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, c)
		}
	}

	add(contactIDs)
	for _, listID := range listIDs {
		add(s.listMembers[listID])
	}
	return &out, nil
}

type StatusHistoryRepository struct {
	store *Store
}

func NewStatusHistoryRepository(store *Store) domainCampaign.StatusHistoryRepository {
	return &StatusHistoryRepository{store: store}
}

func (r *StatusHistoryRepository) Create(change *domainCampaign.StatusChange) (*domainCampaign.StatusChange, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHistory++
	c := *change
	c.ID = s.nextHistory
	s.history = append(s.history, c)
	return &c, nil
}

func (r *StatusHistoryRepository) GetByMessageID(messageID int) (*[]domainCampaign.StatusChange, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domainCampaign.StatusChange
	for _, h := range s.history {
		if h.MessageID == messageID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return &out, nil
}
