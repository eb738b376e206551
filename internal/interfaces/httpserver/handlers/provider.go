package handlers

import (
	"github.com/rs/zerolog"

	"github.com/closetspace/asset-api/internal/config"
)

// Provider wires HTTP handlers.
type Provider struct {
	Asset *AssetHandler
}

func NewProvider(cfg *config.Config, service Pipeline, log zerolog.Logger) *Provider {
	return &Provider{
		Asset: NewAssetHandler(cfg, service, log),
	}
}
