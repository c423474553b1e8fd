// internal/alerting/config.go
package alerting

import (
	"context"
	"fmt"

	"document-eligibility/internal/common/config"
	"document-eligibility/internal/common/logger"

	commonaws "document-eligibility/internal/common/aws"
)

// FromConfig builds the alerter for the configured channel. It returns nil
// when alerting is disabled.
func FromConfig(ctx context.Context, cfg config.AlertingConfig, log logger.Logger) (*Alerter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Channel {
	case config.ChannelSNS:
		client, err := commonaws.NewSNSClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSNSAlerter(client, cfg.TopicARN, log), nil
	case config.ChannelSES:
		client, err := commonaws.NewSESClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSESAlerter(client, cfg.FromEmail, cfg.ToEmails, log), nil
	default:
		return nil, fmt.Errorf("unsupported alert channel %q", cfg.Channel)
	}
}
