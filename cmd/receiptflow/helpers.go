package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	appconfig "github.com/receiptflow/receiptflow/internal/config"
	"github.com/receiptflow/receiptflow/internal/extract"
	"github.com/receiptflow/receiptflow/internal/ingest"
	"github.com/receiptflow/receiptflow/internal/normalize"
	"github.com/receiptflow/receiptflow/internal/redact"
	"github.com/receiptflow/receiptflow/internal/storage"
)

func loadConfig() (appconfig.Config, error) {
	return appconfig.Load(viper.GetViper())
}

func openStorage(dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// buildPipeline assembles the full processing graph from configuration.
// The caller owns closing the returned client.
func buildPipeline(cfg appconfig.Config, store *storage.SQLiteStorage) (*ingest.Pipeline, *extract.Client, error) {
	if err := cfg.ValidateBackend(); err != nil {
		return nil, nil, err
	}

	logger := slog.Default()

	backend, err := extract.NewHTTPBackend(extract.BackendConfig{
		Endpoint:  cfg.Backend.Endpoint,
		APIKey:    cfg.Backend.APIKey,
		BackendID: cfg.Backend.ID,
		Timeout:   cfg.Backend.CallTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	client := extract.NewClient(extract.Config{
		MaxAttempts:   cfg.Backend.MaxAttempts,
		RetryDelay:    cfg.Backend.RetryDelay,
		MaxRetryDelay: cfg.Backend.MaxRetryDelay,
		CallTimeout:   cfg.Backend.CallTimeout,
		CacheTTL:      cfg.Cache.TTL,
		CacheSize:     cfg.Cache.Size,
		RateLimit:     cfg.Backend.RateLimit,
		MaxInFlight:   cfg.Backend.MaxInFlight,
	}, backend, logger, nil)

	classifier, err := normalize.NewKeywordClassifier(keywordRules(cfg))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("invalid keyword rules: %w", err)
	}

	normalizer := normalize.New(normalize.Config{
		DefaultCurrency:     cfg.Normalize.DefaultCurrency,
		ConfidenceThreshold: cfg.Normalize.ConfidenceThreshold,
		ClockSkew:           cfg.Normalize.ClockSkew,
	}, classifier)

	coordinator := ingest.NewCoordinator(store, store, logger)
	pipeline := ingest.NewPipeline(redact.NewDefaultRedactor(), client, normalizer, coordinator, logger)

	return pipeline, client, nil
}

// keywordRules merges configured fallback rules with the built-in defaults.
func keywordRules(cfg appconfig.Config) []normalize.KeywordRule {
	rules := normalize.DefaultKeywordRules()
	for _, r := range cfg.Normalize.KeywordRules {
		rules = append(rules, normalize.KeywordRule{
			Category: r.Category,
			Regex:    r.Regex,
			Priority: r.Priority,
		})
	}
	return rules
}
