package di

import (
	"fmt"

	useCaseCampaign "go-campaign-dispatch/src/application/usecases/campaign"
	"go-campaign-dispatch/src/application/usecases/reconciler"
	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	"go-campaign-dispatch/src/domain/common"
	"go-campaign-dispatch/src/infrastructure/config"
	"go-campaign-dispatch/src/infrastructure/events"
	"go-campaign-dispatch/src/infrastructure/helper"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/messaging"
	"go-campaign-dispatch/src/infrastructure/provider/whatsapp"
	"go-campaign-dispatch/src/infrastructure/repository/database"
	gormCampaign "go-campaign-dispatch/src/infrastructure/repository/database/campaign"
	"go-campaign-dispatch/src/infrastructure/repository/memory"
	campaignController "go-campaign-dispatch/src/infrastructure/rest/controllers/campaign"
	webhookController "go-campaign-dispatch/src/infrastructure/rest/controllers/webhook"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ApplicationContext holds all application dependencies and services
type ApplicationContext struct {
	Config             *config.Config
	DB                 *gorm.DB
	Logger             *logger.Logger
	CommonService      common.CommonService
	CampaignRepository domainCampaign.CampaignRepository
	MessageRepository  domainCampaign.MessageRepository
	Publisher          events.Publisher
	Dispatcher         *messaging.Dispatcher
	Supervisor         *messaging.Supervisor
	CampaignUseCase    useCaseCampaign.ICampaignUseCase
	ReconcilerUseCase  reconciler.IReconcilerUseCase
	CampaignController campaignController.ICampaignController
	WebhookController  webhookController.IWebhookController
}

// Repositories groups the storage ports so either backend can be plugged in
type Repositories struct {
	Campaigns     domainCampaign.CampaignRepository
	Messages      domainCampaign.MessageRepository
	StatusHistory domainCampaign.StatusHistoryRepository
	Contacts      domainCampaign.ContactRepository
}

// SetupDependencies creates a new application context with all dependencies
func SetupDependencies(cfg *config.Config, loggerInstance *logger.Logger) (*ApplicationContext, error) {
	var (
		db    *gorm.DB
		repos Repositories
	)

	if cfg.Database.Driver == "memory" {
		store := memory.NewStore()
		if cfg.Database.ContactSeedFile != "" {
			loaded, err := store.LoadContactSeed(cfg.Database.ContactSeedFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load contact seed: %w", err)
			}
			loggerInstance.Info("Contact seed loaded", zap.Int("contacts", loaded), zap.String("file", cfg.Database.ContactSeedFile))
		}
		repos = MemoryRepositories(store)
		loggerInstance.Warn("Using in-memory storage, campaigns are lost on restart")
	} else {
		var err error
		db, err = database.InitDB(cfg.Database, loggerInstance)
		if err != nil {
			return nil, err
		}
		repos = Repositories{
			Campaigns:     gormCampaign.NewCampaignRepository(db, loggerInstance),
			Messages:      gormCampaign.NewMessageRepository(db, loggerInstance),
			StatusHistory: gormCampaign.NewStatusHistoryRepository(db, loggerInstance),
			Contacts:      gormCampaign.NewContactRepository(db, loggerInstance),
		}
	}

	publisher, err := events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, loggerInstance)
	if err != nil {
		return nil, err
	}

	sender := whatsapp.NewClient(whatsapp.Config{
		BaseURL:     cfg.Provider.BaseURL,
		Token:       cfg.Provider.Token,
		InstanceKey: cfg.Provider.InstanceKey,
		Timeout:     cfg.Provider.Timeout,
	}, loggerInstance)

	appContext := Build(cfg, repos, sender, publisher, loggerInstance)
	appContext.DB = db
	return appContext, nil
}

// MemoryRepositories wires every port to one shared in-memory store
func MemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Campaigns:     memory.NewCampaignRepository(store),
		Messages:      memory.NewMessageRepository(store),
		StatusHistory: memory.NewStatusHistoryRepository(store),
		Contacts:      memory.NewContactRepository(store),
	}
}

// Build assembles the dispatch engine, use cases and controllers on top of
// already opened repositories, a sender and a publisher.
func Build(
	cfg *config.Config,
	repos Repositories,
	sender messaging.Sender,
	publisher events.Publisher,
	loggerInstance *logger.Logger,
) *ApplicationContext {
	retryPolicy := domainCampaign.RetryPolicy{
		Base:       cfg.Dispatch.RetryBase,
		MaxDelay:   cfg.Dispatch.RetryMaxDelay,
		MaxRetries: cfg.Dispatch.MaxRetries,
	}

	closer := messaging.NewCloser(repos.Campaigns, repos.Messages, publisher, retryPolicy.MaxRetries, loggerInstance)
	dispatcher := messaging.NewDispatcher(
		repos.Campaigns,
		repos.Messages,
		repos.StatusHistory,
		sender,
		closer,
		messaging.Config{
			BatchSize:               cfg.Dispatch.BatchSize,
			Workers:                 cfg.Dispatch.Workers,
			RoundInterval:           cfg.Dispatch.RoundInterval,
			EmptyRounds:             cfg.Dispatch.EmptyRounds,
			DefaultRatePerSecond:    cfg.Dispatch.DefaultRatePerSecond,
			ProviderTimeout:         cfg.Provider.Timeout,
			PersistenceFailureLimit: cfg.Dispatch.PersistenceFailureLimit,
			Retry:                   retryPolicy,
		},
		loggerInstance,
	)
	supervisor := messaging.NewSupervisor(dispatcher, repos.Campaigns, cfg.Dispatch.ResumeSchedule, loggerInstance)

	campaignUC := useCaseCampaign.NewCampaignUseCase(
		repos.Campaigns,
		repos.Messages,
		repos.StatusHistory,
		repos.Contacts,
		supervisor,
		dispatcher,
		publisher,
		useCaseCampaign.Options{
			MaxRetries:   retryPolicy.MaxRetries,
			StatsTTL:     cfg.Stats.CacheTTL,
			ErrorSamples: cfg.Stats.ErrorSamples,
		},
		loggerInstance,
	)
	closer.OnClose(func(campaignID int, _ domainCampaign.Status) {
		campaignUC.InvalidateStats(campaignID)
	})

	reconcilerUC := reconciler.NewReconcilerUseCase(
		repos.Campaigns,
		repos.Messages,
		repos.StatusHistory,
		closer,
		cfg.Webhook.InstanceKey,
		loggerInstance,
	)

	validator := helper.NewValidator(loggerInstance)
	commonService := common.NewCommonService(validator)

	return &ApplicationContext{
		Config:             cfg,
		Logger:             loggerInstance,
		CommonService:      commonService,
		CampaignRepository: repos.Campaigns,
		MessageRepository:  repos.Messages,
		Publisher:          publisher,
		Dispatcher:         dispatcher,
		Supervisor:         supervisor,
		CampaignUseCase:    campaignUC,
		ReconcilerUseCase:  reconcilerUC,
		CampaignController: campaignController.NewCampaignController(commonService, campaignUC, loggerInstance),
		WebhookController:  webhookController.NewWebhookController(commonService, reconcilerUC, loggerInstance),
	}
}
