package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/outbound"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/twiliowhatsapp"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/whatsapp"
)

// buildDispatcher wires the platform send bridges and the human-agent
// notifiers. The event hub is always a notifier; Twilio and WhatsApp join
// when recipients are configured.
func (r *Runtime) buildDispatcher(ctx context.Context, ov overrides) error {
	opts := []outbound.Option{outbound.WithFallbackSender(outbound.LogSender{})}

	bridges := map[models.Platform]string{
		models.PlatformTikTok:   r.cfg.TikTokSendURL,
		models.PlatformLinkedIn: r.cfg.LinkedInSendURL,
	}
	for platform, url := range bridges {
		if s, ok := ov.senders[platform]; ok {
			opts = append(opts, outbound.WithSender(platform, s))
			continue
		}
		if url == "" {
			slog.Warn("Runtime.buildDispatcher: no send bridge, replies will only be logged", "platform", platform)
			continue
		}
		opts = append(opts, outbound.WithSender(platform, outbound.NewWebhookSender(url, r.cfg.SendToken, nil)))
	}

	opts = append(opts, outbound.WithNotifier(outbound.NewEventNotifier(r.hub)))
	for _, n := range ov.notifiers {
		opts = append(opts, outbound.WithNotifier(n))
	}

	notify := r.cfg.Notify
	if len(notify.TwilioRecipients) > 0 {
		var twOpts []twiliowhatsapp.Option
		if notify.TwilioChannel != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithChannel(twiliowhatsapp.Channel(notify.TwilioChannel)))
		}
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return fmt.Errorf("create twilio notifier: %w", err)
		}
		opts = append(opts, outbound.WithNotifier(outbound.NewTextNotifier("twilio", client, notify.TwilioRecipients)))
	}
	if len(notify.WhatsAppRecipients) > 0 {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(notify.WhatsAppDSN)}
		if notify.WhatsAppQRPath != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(notify.WhatsAppQRPath))
		}
		if notify.WhatsAppNumeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return fmt.Errorf("create whatsapp notifier: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		opts = append(opts, outbound.WithNotifier(outbound.NewTextNotifier("whatsapp", client, notify.WhatsAppRecipients)))
	}

	r.dispatcher = outbound.NewDispatcher(opts...)
	return nil
}
