package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	useCaseCampaign "go-campaign-dispatch/src/application/usecases/campaign"
	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	"go-campaign-dispatch/src/infrastructure/config"
	"go-campaign-dispatch/src/infrastructure/events"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct{}

func (stubSender) Send(_ context.Context, phone string, _ string) (string, error) {
	return "ext-" + phone, nil
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Dispatch.RoundInterval = 10 * time.Millisecond
	cfg.Dispatch.EmptyRounds = 1
	cfg.Dispatch.DefaultRatePerSecond = 0
	return cfg
}

func TestSetupDependencies_Memory(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "contacts.yml")
	require.NoError(t, os.WriteFile(seed, []byte(`
contacts:
  - id: 1
    name: Ana
    phone: "+1 555 0100"
    lists: [7]
  - id: 2
    name: Bo
    phone: "+1 555 0101"
`), 0o600))

	cfg := memoryConfig()
	cfg.Database.ContactSeedFile = seed

	appContext, err := SetupDependencies(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer appContext.Supervisor.Shutdown(context.Background())

	assert.Nil(t, appContext.DB)
	assert.IsType(t, events.NoopPublisher{}, appContext.Publisher)
	assert.NotNil(t, appContext.CampaignController)
	assert.NotNil(t, appContext.WebhookController)

	created, err := appContext.CampaignUseCase.Create(&useCaseCampaign.CreateCampaignRequest{
		Name:            "Seeded",
		MessageTemplate: "Hi {{name}}",
		ListIDs:         []int{7},
	})
	require.NoError(t, err)
	recipients, err := appContext.CampaignUseCase.MaterializeRecipients(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, recipients)
}

func TestSetupDependencies_MissingSeed(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.ContactSeedFile = filepath.Join(t.TempDir(), "missing.yml")

	_, err := SetupDependencies(cfg, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestSetupDependencies_DatabaseConfigIncomplete(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "postgres"

	_, err := SetupDependencies(cfg, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestBuild_ClosesCampaignAndInvalidatesStats(t *testing.T) {
	store := memory.NewStore()
	store.AddContact(domainCampaign.Contact{ID: 1, Name: "Ana", Phone: "+1 555 0100"})

	appContext := Build(memoryConfig(), MemoryRepositories(store), stubSender{}, events.NoopPublisher{}, logger.NewNopLogger())
	defer appContext.Supervisor.Shutdown(context.Background())

	useCase := appContext.CampaignUseCase
	created, err := useCase.Create(&useCaseCampaign.CreateCampaignRequest{
		Name:            "Welcome",
		MessageTemplate: "Hi {{name}}",
		ContactIDs:      []int{1},
	})
	require.NoError(t, err)

	// cache a stats snapshot taken before anything was sent
	_, err = useCase.StartProcessing(context.Background(), created.ID)
	require.NoError(t, err)
	before, err := useCase.GetRealtimeStats(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, before.Stats.Total)

	assert.Eventually(t, func() bool {
		stats, err := useCase.GetRealtimeStats(created.ID)
		return err == nil && stats.Status == domainCampaign.StatusSent && stats.Stats.Sent == 1
	}, 5*time.Second, 10*time.Millisecond)
}
