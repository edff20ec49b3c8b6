package database

import (
	"fmt"
	"strings"

	"go-campaign-dispatch/src/infrastructure/config"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/repository/database/campaign"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Repository struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config config.DatabaseConfig
}

func NewRepository(cfg config.DatabaseConfig, loggerInstance *logger.Logger) *Repository {
	return &Repository{
		Config: cfg,
		Logger: loggerInstance,
	}
}

// checkRequired returns an error naming every connection setting left empty
func checkRequired(c config.DatabaseConfig) error {
	var missingVars []string
	if c.Host == "" {
		missingVars = append(missingVars, "DB_HOST")
	}
	if c.Port == "" {
		missingVars = append(missingVars, "DB_PORT")
	}
	if c.User == "" {
		missingVars = append(missingVars, "DB_USER")
	}
	if c.Name == "" {
		missingVars = append(missingVars, "DB_NAME")
	}
	if len(missingVars) > 0 {
		return fmt.Errorf("missing required database environment variables: %s", strings.Join(missingVars, ", "))
	}
	return nil
}

// GetDSN renders the driver specific connection string
func GetDSN(c config.DatabaseConfig) string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name)
}

func (r *Repository) dialector() (gorm.Dialector, error) {
	switch r.Config.Driver {
	case "mysql":
		return mysql.Open(GetDSN(r.Config)), nil
	case "postgres":
		return postgres.Open(GetDSN(r.Config)), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", r.Config.Driver)
}

func (r *Repository) InitDatabase() error {
	if err := checkRequired(r.Config); err != nil {
		r.Logger.Error("Failed to load database configuration", zap.Error(err))
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	dialector, err := r.dialector()
	if err != nil {
		return err
	}

	gormZap := logger.NewGormLogger(r.Logger.Log).
		LogMode(gormlogger.Warn) // Silent / Error / Warn / Info

	r.DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: gormZap,
	})
	if err != nil {
		r.Logger.Error("Error connecting to the database", zap.Error(err), zap.String("driver", r.Config.Driver))
		return err
	}

	if err = r.MigrateEntitiesGORM(); err != nil {
		r.Logger.Error("Error migrating the database", zap.Error(err))
		return err
	}

	r.Logger.Info("Database connection and migrations successful", zap.String("driver", r.Config.Driver))
	return nil
}

func (r *Repository) MigrateEntitiesGORM() error {
	err := r.DB.AutoMigrate(
		&campaign.Campaign{},
		&campaign.Message{},
		&campaign.MessageStatusHistory{},
		&campaign.Contact{},
		&campaign.ContactListMember{},
	)
	if err != nil {
		r.Logger.Error("Error migrating database entities", zap.Error(err))
		return err
	}

	r.Logger.Info("Database entities migration completed successfully")
	return nil
}

// InitDB opens and migrates the configured database
func InitDB(cfg config.DatabaseConfig, loggerInstance *logger.Logger) (*gorm.DB, error) {
	repo := NewRepository(cfg, loggerInstance)

	if err := repo.InitDatabase(); err != nil {
		return nil, err
	}

	return repo.DB, nil
}
