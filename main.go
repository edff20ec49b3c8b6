package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-campaign-dispatch/src/infrastructure/config"
	"go-campaign-dispatch/src/infrastructure/di"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/rest/middlewares"
	"go-campaign-dispatch/src/infrastructure/rest/routes"
	"go-campaign-dispatch/src/infrastructure/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	env := utils.GetEnv("GO_ENV", "development")
	var loggerInstance *logger.Logger
	var err error

	if env == "development" {
		loggerInstance, err = logger.NewDevelopmentLogger()
	} else {
		loggerInstance, err = logger.NewLogger()
	}

	if err != nil {
		panic(fmt.Errorf("error initializing logger: %w", err))
	}
	defer func() {
		_ = loggerInstance.Log.Sync()
	}()

	loggerInstance.Info("Starting go-campaign-dispatch application")

	cfg, err := config.Load()
	if err != nil {
		loggerInstance.Fatal("Error loading configuration", zap.Error(err))
	}

	appContext, err := di.SetupDependencies(cfg, loggerInstance)
	if err != nil {
		loggerInstance.Fatal("Error initializing application context", zap.Error(err))
	}

	router := setupRouter(appContext, env, loggerInstance)
	server := setupServer(router, cfg.Server.Port)

	// picks up campaigns left in_progress by a previous process, then keeps re-checking
	if err := appContext.Supervisor.StartResumeSchedule(); err != nil {
		loggerInstance.Fatal("Error scheduling dispatcher resume", zap.Error(err))
	}

	go func() {
		loggerInstance.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	loggerInstance.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		loggerInstance.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := appContext.Supervisor.Shutdown(ctx); err != nil {
		loggerInstance.Error("Dispatchers did not stop in time", zap.Error(err))
	}
	if err := appContext.Publisher.Close(); err != nil {
		loggerInstance.Warn("Error closing event publisher", zap.Error(err))
	}
	loggerInstance.Info("Shutdown complete")
}

func setupRouter(appContext *di.ApplicationContext, env string, logger *logger.Logger) *gin.Engine {
	if env == "development" {
		logger.SetupGinWithZapLoggerInDevelopment()
	} else {
		logger.SetupGinWithZapLogger()
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.Use(middlewares.CommonHeaders())
	router.Use(logger.GinZapLogger())
	router.Use(middlewares.ErrorHandler())

	routes.ApplicationRouter(router, appContext)
	return router
}

func setupServer(router *gin.Engine, port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
