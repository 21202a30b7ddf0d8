package app

import (
	"strings"

	"shopwatch/internal/catalog"
	"shopwatch/internal/config"
	"shopwatch/internal/dispatch"
	"shopwatch/internal/observability/server"
	"shopwatch/internal/storage"
)

func mapStorageConfig(cfg *config.Config, sec config.Secrets) storage.Config {
	return storage.Config{
		Driver:        strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:          strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout:   cfg.Storage.BusyTimeout.D(),
		RedisAddr:     strings.TrimSpace(cfg.Storage.RedisAddr),
		RedisPassword: sec.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisKey:      strings.TrimSpace(cfg.Storage.RedisKey),
	}
}

func mapCatalogConfig(cfg *config.Config, sec config.Secrets) catalog.ClientConfig {
	return catalog.ClientConfig{
		URL:     strings.TrimSpace(cfg.Catalog.URL),
		APIKey:  sec.FortniteAPIKey,
		Timeout: cfg.Catalog.Timeout.D(),
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: cfg.Dispatch.SendTimeout.D(),
	}
}

func mapServerConfig(cfg *config.Config, sec config.Secrets) server.Config {
	return server.Config{
		Enabled:       cfg.Server.Enabled,
		Addr:          strings.TrimSpace(cfg.Server.Addr),
		Pprof:         cfg.Server.Pprof,
		Token:         sec.ServerToken,
		AllowInsecure: cfg.Server.AllowInsecure,
		ReadTimeout:   cfg.Server.ReadTimeout.D(),
		IdleTimeout:   cfg.Server.IdleTimeout.D(),
	}
}
