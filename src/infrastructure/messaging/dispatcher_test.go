package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  map[string]int
	script map[string][]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: map[string]int{}, script: map[string][]error{}}
}

func (f *fakeSender) Send(_ context.Context, phone string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.calls[phone]
	f.calls[phone]++
	if steps := f.script[phone]; attempt < len(steps) && steps[attempt] != nil {
		return "", steps[attempt]
	}
	return fmt.Sprintf("ext-%s-%d", phone, attempt), nil
}

func (f *fakeSender) Calls(phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[phone]
}

var (
	errTransient = domainErrors.NewAppError(errors.New("gateway busy"), domainErrors.TransientSendError)
	errPermanent = domainErrors.NewAppError(errors.New("number not on whatsapp"), domainErrors.PermanentSendError)
)

type fixture struct {
	store      *memory.Store
	campaigns  domainCampaign.CampaignRepository
	messages   domainCampaign.MessageRepository
	history    domainCampaign.StatusHistoryRepository
	closer     *Closer
	dispatcher *Dispatcher
	campaign   *domainCampaign.Campaign
}

func newFixture(t *testing.T, sender Sender, cfg Config, phones ...string) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:     store,
		campaigns: memory.NewCampaignRepository(store),
		messages:  memory.NewMessageRepository(store),
		history:   memory.NewStatusHistoryRepository(store),
	}

	c, err := f.campaigns.Create(&domainCampaign.Campaign{
		Name:            "spring promo",
		MessageTemplate: "Hi {{name}}, code {{code}}",
		Status:          domainCampaign.StatusDraft,
	})
	require.NoError(t, err)
	f.campaign = c

	batch := make([]domainCampaign.Message, 0, len(phones))
	for _, phone := range phones {
		batch = append(batch, domainCampaign.Message{
			CampaignID:      c.ID,
			RecipientPhone:  phone,
			RecipientName:   "user" + phone,
			RecipientFields: map[string]string{"code": "X" + phone},
		})
	}
	_, err = f.messages.InsertPending(batch)
	require.NoError(t, err)
	require.NoError(t, f.campaigns.TransitionStatus(c.ID, domainCampaign.StatusDraft, domainCampaign.StatusInProgress, time.Now()))

	log := logger.NewNopLogger()
	f.closer = NewCloser(f.campaigns, f.messages, nil, cfg.withDefaults().Retry.MaxRetries, log)
	f.dispatcher = NewDispatcher(f.campaigns, f.messages, f.history, sender, f.closer, cfg, log)
	return f
}

func (f *fixture) messageByPhone(t *testing.T, phone string) domainCampaign.Message {
	t.Helper()
	for _, m := range f.store.MessagesByCampaign(f.campaign.ID) {
		if m.RecipientPhone == phone {
			return m
		}
	}
	t.Fatalf("no message for %s", phone)
	return domainCampaign.Message{}
}

func (f *fixture) campaignStatus(t *testing.T) domainCampaign.Status {
	t.Helper()
	c, err := f.campaigns.GetByID(f.campaign.ID)
	require.NoError(t, err)
	return c.Status
}

func fastConfig() Config {
	return Config{
		BatchSize:     10,
		Workers:       3,
		RoundInterval: 5 * time.Millisecond,
		EmptyRounds:   2,
		Retry:         domainCampaign.DefaultRetryPolicy(),
	}
}

func TestDispatcher_Run_AllSucceed(t *testing.T) {
	sender := newFakeSender()
	f := newFixture(t, sender, fastConfig(), "1", "2", "3")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Run(ctx, f.campaign.ID))

	for _, phone := range []string{"1", "2", "3"} {
		m := f.messageByPhone(t, phone)
		assert.Equal(t, domainCampaign.MessageSent, m.Status)
		require.NotNil(t, m.ExternalID)
		assert.Equal(t, "ext-"+phone+"-0", *m.ExternalID)
		assert.Equal(t, "Hi user"+phone+", code X"+phone, m.RenderedContent)
		assert.NotNil(t, m.SentAt)
		assert.Equal(t, 1, sender.Calls(phone))
	}
	assert.Equal(t, domainCampaign.StatusSent, f.campaignStatus(t))

	history, err := f.history.GetByMessageID(f.messageByPhone(t, "1").ID)
	require.NoError(t, err)
	require.Len(t, *history, 1)
	assert.Equal(t, domainCampaign.SourceDispatcher, (*history)[0].Source)
	assert.Equal(t, domainCampaign.MessageSent, (*history)[0].ToStatus)
}

func TestDispatcher_Tick_TransientRetriesThenPartial(t *testing.T) {
	sender := newFakeSender()
	sender.script["1"] = []error{errTransient, errTransient}
	sender.script["2"] = []error{errPermanent}

	f := newFixture(t, sender, fastConfig(), "1", "2")
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.now = func() time.Time { return clock }
	ctx := context.Background()

	res, err := f.dispatcher.Tick(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Remaining)
	assert.False(t, res.Closed)

	x := f.messageByPhone(t, "1")
	assert.Equal(t, domainCampaign.MessageFailed, x.Status)
	assert.Equal(t, 1, x.RetryCount)
	require.NotNil(t, x.NextRetryAt)
	assert.Equal(t, clock.Add(time.Minute), *x.NextRetryAt)

	y := f.messageByPhone(t, "2")
	assert.Equal(t, domainCampaign.MessageFailed, y.Status)
	assert.Equal(t, 0, y.RetryCount)
	assert.Nil(t, y.NextRetryAt)
	assert.Equal(t, string(domainCampaign.FailurePermanent), y.ErrorKind)

	// not due yet
	clock = clock.Add(30 * time.Second)
	res, err = f.dispatcher.Tick(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Remaining)

	clock = clock.Add(31 * time.Second)
	res, err = f.dispatcher.Tick(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	x = f.messageByPhone(t, "1")
	assert.Equal(t, 2, x.RetryCount)
	assert.Equal(t, clock.Add(2*time.Minute), *x.NextRetryAt)

	clock = clock.Add(2 * time.Minute)
	res, err = f.dispatcher.Tick(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.Closed)
	assert.Equal(t, domainCampaign.StatusPartial, res.Status)

	x = f.messageByPhone(t, "1")
	assert.Equal(t, domainCampaign.MessageSent, x.Status)
	assert.Equal(t, 2, x.RetryCount)
	assert.Nil(t, x.NextRetryAt)
	assert.Empty(t, x.ErrorMessage)
	assert.Equal(t, 0, f.messageByPhone(t, "2").RetryCount)
	assert.Equal(t, 1, sender.Calls("2"))
	assert.Equal(t, domainCampaign.StatusPartial, f.campaignStatus(t))
}

func TestDispatcher_Run_RetriesUntilExhausted(t *testing.T) {
	sender := newFakeSender()
	sender.script["1"] = []error{errTransient, errTransient, errTransient, errTransient}

	cfg := fastConfig()
	cfg.Retry = domainCampaign.RetryPolicy{Base: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxRetries: 3}
	f := newFixture(t, sender, cfg, "1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Run(ctx, f.campaign.ID))

	m := f.messageByPhone(t, "1")
	assert.Equal(t, 3, sender.Calls("1"))
	assert.Equal(t, domainCampaign.MessageFailed, m.Status)
	assert.Equal(t, 3, m.RetryCount)
	assert.Nil(t, m.NextRetryAt)
	assert.Contains(t, m.ErrorMessage, "gateway busy")
	assert.Equal(t, domainCampaign.StatusFailed, f.campaignStatus(t))
}

func TestDispatcher_Run_UnknownFailureIsRetried(t *testing.T) {
	sender := newFakeSender()
	sender.script["1"] = []error{errors.New("connection reset")}

	cfg := fastConfig()
	cfg.Retry = domainCampaign.RetryPolicy{Base: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 5}
	f := newFixture(t, sender, cfg, "1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Run(ctx, f.campaign.ID))

	m := f.messageByPhone(t, "1")
	assert.Equal(t, domainCampaign.MessageSent, m.Status)
	assert.Equal(t, 1, m.RetryCount)
	assert.Equal(t, domainCampaign.StatusSent, f.campaignStatus(t))
}

func TestDispatcher_Run_StopsWhenCampaignLeavesInProgress(t *testing.T) {
	sender := newFakeSender()
	f := newFixture(t, sender, fastConfig(), "1")
	require.NoError(t, f.campaigns.TransitionStatus(f.campaign.ID, domainCampaign.StatusInProgress, domainCampaign.StatusDraft, time.Now()))

	require.NoError(t, f.dispatcher.Run(context.Background(), f.campaign.ID))

	assert.Equal(t, 0, sender.Calls("1"))
	assert.Equal(t, domainCampaign.MessagePending, f.messageByPhone(t, "1").Status)
	assert.Equal(t, domainCampaign.StatusDraft, f.campaignStatus(t))
}

type blockingSender struct {
	started chan string
	release chan struct{}
}

func (b *blockingSender) Send(ctx context.Context, phone string, _ string) (string, error) {
	b.started <- phone
	<-b.release
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "ext-" + phone, nil
}

func TestDispatcher_Run_CancelLetsInFlightSendFinish(t *testing.T) {
	sender := &blockingSender{started: make(chan string, 3), release: make(chan struct{})}
	cfg := fastConfig()
	cfg.Workers = 1
	f := newFixture(t, sender, cfg, "1", "2", "3")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.dispatcher.Run(ctx, f.campaign.ID) }()

	first := <-sender.started
	cancel()
	close(sender.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}

	sent := 0
	for _, m := range f.store.MessagesByCampaign(f.campaign.ID) {
		if m.Status == domainCampaign.MessageSent {
			sent++
			assert.Equal(t, first, m.RecipientPhone)
		} else {
			assert.Equal(t, domainCampaign.MessagePending, m.Status)
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, domainCampaign.StatusInProgress, f.campaignStatus(t))
}

type failingFetchRepository struct {
	domainCampaign.MessageRepository
	calls int
	mu    sync.Mutex
}

func (r *failingFetchRepository) FetchDueBatch(int, time.Time, int, int) (*[]domainCampaign.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil, domainErrors.NewAppError(errors.New("connection refused"), domainErrors.PersistenceError)
}

func TestDispatcher_Run_AbortsAfterRepeatedPersistenceFailures(t *testing.T) {
	f := newFixture(t, newFakeSender(), fastConfig(), "1")
	failing := &failingFetchRepository{MessageRepository: f.messages}
	d := NewDispatcher(f.campaigns, failing, f.history, newFakeSender(), f.closer, fastConfig(), logger.NewNopLogger())

	err := d.Run(context.Background(), f.campaign.ID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDispatchAborted))
	assert.True(t, domainErrors.IsType(err, domainErrors.PersistenceError))
	assert.Equal(t, 3, failing.calls)
	assert.Equal(t, domainCampaign.StatusInProgress, f.campaignStatus(t))
}

func TestDispatcher_Tick_NotInProgress(t *testing.T) {
	sender := newFakeSender()
	f := newFixture(t, sender, fastConfig(), "1")
	require.NoError(t, f.campaigns.TransitionStatus(f.campaign.ID, domainCampaign.StatusInProgress, domainCampaign.StatusDraft, time.Now()))

	res, err := f.dispatcher.Tick(context.Background(), f.campaign.ID)

	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, domainCampaign.StatusDraft, res.Status)
	assert.Equal(t, 0, sender.Calls("1"))
}

func TestDispatcher_NewLimiter(t *testing.T) {
	d := &Dispatcher{cfg: Config{DefaultRatePerSecond: 4}}

	assert.Equal(t, 0.5, float64(d.newLimiter(2).Limit()))
	assert.Equal(t, 4.0, float64(d.newLimiter(0).Limit()))
	assert.Equal(t, 1, d.newLimiter(2).Burst())

	d.cfg.DefaultRatePerSecond = 0
	assert.True(t, d.newLimiter(0).Limit() > 1e300)
}

func TestCloser_CloseIfDrained(t *testing.T) {
	f := newFixture(t, newFakeSender(), fastConfig(), "1", "2")
	ctx := context.Background()

	var hooked []domainCampaign.Status
	f.closer.OnClose(func(_ int, status domainCampaign.Status) { hooked = append(hooked, status) })

	_, closed, err := f.closer.CloseIfDrained(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.False(t, closed)

	require.NoError(t, f.messages.MarkSent(1, domainCampaign.MessagePending, domainCampaign.SendResult{ExternalID: "a", SentAt: time.Now()}))
	require.NoError(t, f.messages.MarkFailed(2, domainCampaign.MessagePending, domainCampaign.FailureUpdate{ErrorMessage: "bad number"}))

	status, closed, err := f.closer.CloseIfDrained(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, domainCampaign.StatusPartial, status)
	assert.Equal(t, []domainCampaign.Status{domainCampaign.StatusPartial}, hooked)

	_, closed, err = f.closer.CloseIfDrained(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Len(t, hooked, 1)
}
