package memory

import (
	"sort"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
)

// MessageRepository is the in-memory domainCampaign.MessageRepository
type MessageRepository struct {
	store *Store
}

func NewMessageRepository(store *Store) domainCampaign.MessageRepository {
	return &MessageRepository{store: store}
}

func (r *MessageRepository) InsertPending(messages []domainCampaign.Message) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		campaignID int
		phone      string
	}
	existing := make(map[key]bool)
	for _, m := range s.messages {
		existing[key{m.CampaignID, m.RecipientPhone}] = true
	}

	inserted := 0
	for i := range messages {
		k := key{messages[i].CampaignID, messages[i].RecipientPhone}
		if existing[k] {
			continue
		}
		existing[k] = true

		s.nextMessage++
		m := copyMessage(&messages[i])
		m.ID = s.nextMessage
		m.Status = domainCampaign.MessagePending
		now := s.now()
		m.CreatedAt, m.UpdatedAt = now, now
		s.messages[m.ID] = &m
		inserted++
	}
	return inserted, nil
}

func (r *MessageRepository) CountByCampaign(campaignID int) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

func (r *MessageRepository) GetByID(id int) (*domainCampaign.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, notFound()
	}
	c := copyMessage(m)
	return &c, nil
}

func (r *MessageRepository) GetByExternalID(externalID string) (*domainCampaign.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			c := copyMessage(m)
			return &c, nil
		}
	}
	return nil, notFound()
}

func isDue(m *domainCampaign.Message, now time.Time, maxRetries int) bool {
	switch m.Status {
	case domainCampaign.MessagePending:
		return true
	case domainCampaign.MessageFailed:
		return m.NextRetryAt != nil && !m.NextRetryAt.After(now) && m.RetryCount < maxRetries
	}
	return false
}

func (r *MessageRepository) FetchDueBatch(campaignID int, now time.Time, maxRetries int, limit int) (*[]domainCampaign.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domainCampaign.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID && isDue(m, now, maxRetries) {
			due = append(due, copyMessage(m))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return &due, nil
}

func (r *MessageRepository) MarkSent(id int, expected domainCampaign.MessageStatus, result domainCampaign.SendResult) error {
	return r.conditionalUpdate(id, expected, func(m *domainCampaign.Message) {
		externalID := result.ExternalID
		sentAt := result.SentAt
		m.Status = domainCampaign.MessageSent
		m.ExternalID = &externalID
		m.RenderedContent = result.RenderedContent
		m.SentAt = &sentAt
		m.NextRetryAt = nil
		m.ErrorMessage = ""
		m.ErrorKind = ""
	})
}

func (r *MessageRepository) MarkFailed(id int, expected domainCampaign.MessageStatus, update domainCampaign.FailureUpdate) error {
	return r.conditionalUpdate(id, expected, func(m *domainCampaign.Message) {
		m.Status = domainCampaign.MessageFailed
		m.RenderedContent = update.RenderedContent
		m.RetryCount = update.RetryCount
		if update.NextRetryAt != nil {
			next := *update.NextRetryAt
			m.NextRetryAt = &next
		} else {
			m.NextRetryAt = nil
		}
		m.ErrorMessage = update.ErrorMessage
		m.ErrorKind = update.ErrorKind
	})
}

func (r *MessageRepository) ApplyDeliveryStatus(id int, expected domainCampaign.MessageStatus, to domainCampaign.MessageStatus, at time.Time, errorMessage string) error {
	return r.conditionalUpdate(id, expected, func(m *domainCampaign.Message) {
		stamp := at
		m.Status = to
		switch to {
		case domainCampaign.MessageDelivered:
			m.DeliveredAt = &stamp
		case domainCampaign.MessageRead:
			m.ReadAt = &stamp
			if m.DeliveredAt == nil {
				m.DeliveredAt = &stamp
			}
		case domainCampaign.MessageFailed:
			m.ErrorMessage = errorMessage
			m.ErrorKind = string(domainCampaign.FailurePermanent)
			m.NextRetryAt = nil
		}
	})
}

func (r *MessageRepository) conditionalUpdate(id int, expected domainCampaign.MessageStatus, apply func(*domainCampaign.Message)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status != expected {
		return conflict("message %d is no longer %s", id, expected)
	}
	apply(m)
	m.UpdatedAt = s.now()
	return nil
}

func (r *MessageRepository) CountByStatus(campaignID int, maxRetries int) (*domainCampaign.StatusCounts, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := &domainCampaign.StatusCounts{}
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			continue
		}
		switch m.Status {
		case domainCampaign.MessagePending:
			counts.Pending++
		case domainCampaign.MessageSent:
			counts.Sent++
		case domainCampaign.MessageDelivered:
			counts.Delivered++
		case domainCampaign.MessageRead:
			counts.Read++
		case domainCampaign.MessageFailed:
			if m.NextRetryAt != nil && m.RetryCount < maxRetries {
				counts.Retrying++
			} else {
				counts.Failed++
			}
		}
	}
	return counts, nil
}

func (r *MessageRepository) RecentFailures(campaignID int, limit int) (*[]domainCampaign.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domainCampaign.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID && m.Status == domainCampaign.MessageFailed && m.ErrorMessage != "" {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return &out, nil
}
