package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates the push provider selected by cfg.Provider
func NewProvider(ctx context.Context, cfg config.PushConfig) (Provider, error) {
	providerType := ProviderType(cfg.Provider)

	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFCM:
		if cfg.FCMProjectID == "" {
			return nil, fmt.Errorf("FCM_PROJECT_ID is required for FCM provider")
		}
		return NewFCMProvider(ctx, &FCMConfig{
			ProjectID:       cfg.FCMProjectID,
			CredentialsPath: cfg.FCMCredentialsPath,
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			BundleID:            cfg.APNsBundleID,
			KeyPath:             cfg.APNsKeyPath,
			KeyID:               cfg.APNsKeyID,
			TeamID:              cfg.APNsTeamID,
			CertificatePath:     cfg.APNsCertPath,
			CertificatePassword: cfg.APNsCertPassword,
			Production:          cfg.APNsProduction,
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(providerType)))
		return &MockProvider{}, nil
	}
}
