package memory

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"

	"gopkg.in/yaml.v2"
)

// Store keeps campaigns, messages, history and contacts in process memory.
// Every mutation happens under one mutex, so conditional writes behave like
// the SQL compare-and-swap updates.
type Store struct {
	mu sync.Mutex

	campaigns    map[int]*domainCampaign.Campaign
	messages     map[int]*domainCampaign.Message
	history      []domainCampaign.StatusChange
	contacts     map[int]domainCampaign.Contact
	listMembers  map[int][]int
	nextCampaign int
	nextMessage  int
	nextHistory  int

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		campaigns:   make(map[int]*domainCampaign.Campaign),
		messages:    make(map[int]*domainCampaign.Message),
		contacts:    make(map[int]domainCampaign.Contact),
		listMembers: make(map[int][]int),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for created/updated stamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddContact registers a contact, optionally as a member of the given lists
func (s *Store) AddContact(contact domainCampaign.Contact, listIDs ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.ID] = contact
	for _, listID := range listIDs {
		s.listMembers[listID] = append(s.listMembers[listID], contact.ID)
	}
}

type contactSeed struct {
	Contacts []struct {
		ID     int               `yaml:"id"`
		Name   string            `yaml:"name"`
		Phone  string            `yaml:"phone"`
		Fields map[string]string `yaml:"fields"`
		Lists  []int             `yaml:"lists"`
	} `yaml:"contacts"`
}

// LoadContactSeed reads a YAML contact directory into the store
func (s *Store) LoadContactSeed(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read contact seed %s: %w", path, err)
	}
	var seed contactSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse contact seed %s: %w", path, err)
	}
	for _, c := range seed.Contacts {
		s.AddContact(domainCampaign.Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Fields: c.Fields}, c.Lists...)
	}
	return len(seed.Contacts), nil
}

// Message returns a copy of a stored message, for assertions
func (s *Store) Message(id int) (domainCampaign.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domainCampaign.Message{}, false
	}
	return copyMessage(m), true
}

// MessagesByCampaign returns copies of a campaign's messages ordered by id
func (s *Store) MessagesByCampaign(campaignID int) []domainCampaign.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaignMessagesLocked(campaignID)
}

func (s *Store) campaignMessagesLocked(campaignID int) []domainCampaign.Message {
	var out []domainCampaign.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyMessage(m *domainCampaign.Message) domainCampaign.Message {
	c := *m
	if m.RecipientFields != nil {
		c.RecipientFields = make(map[string]string, len(m.RecipientFields))
		for k, v := range m.RecipientFields {
			c.RecipientFields[k] = v
		}
	}
	return c
}

func copyCampaign(c *domainCampaign.Campaign) *domainCampaign.Campaign {
	out := *c
	out.TargetContactIDs = append([]int(nil), c.TargetContactIDs...)
	out.TargetListIDs = append([]int(nil), c.TargetListIDs...)
	return &out
}

func conflict(format string, args ...interface{}) error {
	return domainErrors.NewAppError(fmt.Errorf(format, args...), domainErrors.ConflictError)
}

func notFound() error {
	return domainErrors.NewAppErrorWithType(domainErrors.NotFound)
}

func totalPages(total int64, pageSize int) int {
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
