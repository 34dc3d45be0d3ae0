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

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/mocab/pkg/common/config"
	"github.com/synaptica-ai/mocab/pkg/common/database"
	"github.com/synaptica-ai/mocab/pkg/common/kafka"
	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/feature"
	"github.com/synaptica-ai/mocab/pkg/fhirclient"
	"github.com/synaptica-ai/mocab/pkg/gateway/middleware"
	"github.com/synaptica-ai/mocab/pkg/route"
	"github.com/synaptica-ai/mocab/pkg/serving"
	"github.com/synaptica-ai/mocab/pkg/storage"
	"github.com/synaptica-ai/mocab/pkg/terminology"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

func main() {
	logger.Init()
	cfg := config.Load()

	catalog, err := transform.LoadFile(cfg.TransformationTable)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load transformation table")
	}
	rules, err := route.LoadRuleTable(cfg.ResourceRouteTable)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load resource routes")
	}
	logger.Log.WithFields(map[string]interface{}{
		"models": catalog.Models(),
		"routes": rules.Len(),
	}).Info("Configuration loaded")

	opts := []serving.Option{}

	if cfg.FeatureTable != "" {
		assembler, err := newAssembler(cfg, rules)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to set up feature assembly")
		}
		opts = append(opts, serving.WithAssembler(assembler))
	}

	if cfg.VectorCacheTTL > 0 {
		cache := storage.NewVectorCache(database.GetRedis(cfg), cfg.VectorCacheTTL)
		opts = append(opts, serving.WithCache(cache))
		defer database.CloseRedis()
	}

	if cfg.VectorLogEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to database")
		}
		repo := serving.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate vector log table")
		}
		opts = append(opts, serving.WithVectorLog(repo))
		defer database.ClosePostgres()
	}

	service := serving.NewService(catalog, opts...)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(cfg, cfg.KafkaRequestTopic)
		producer := kafka.NewProducer(cfg, cfg.KafkaVectorTopic)
		defer consumer.Close()
		defer producer.Close()

		go func() {
			logger.Log.WithField("topic", cfg.KafkaRequestTopic).Info("Consuming assembly requests")
			if err := consumer.Consume(ctx, service.EventHandler(producer)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("Assembly consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)
	serving.NewHTTPHandler(service, rules, cfg.MaxRequestBody).Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Feature Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Feature Service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Feature Service stopped")
}

func newAssembler(cfg *config.Config, rules *route.RuleTable) (*feature.Assembler, error) {
	systems, err := terminology.Load(cfg.TerminologyCatalog)
	if err != nil {
		return nil, err
	}
	features, err := feature.LoadTable(cfg.FeatureTable, feature.WithTerminology(systems))
	if err != nil {
		return nil, err
	}
	client, err := fhirclient.New(fhirclient.Config{
		BaseURL:      cfg.FHIRServerURL,
		TokenURL:     cfg.FHIRTokenURL,
		ClientID:     cfg.FHIRClientID,
		ClientSecret: cfg.FHIRClientSecret,
		Scopes:       cfg.FHIRScopes,
		Timeout:      cfg.FHIRRequestTimeout,
		MaxPages:     cfg.FHIRMaxPages,
	})
	if err != nil {
		return nil, err
	}
	return feature.NewAssembler(client, features, rules, feature.WithConcurrency(cfg.AssemblyWorkers))
}
