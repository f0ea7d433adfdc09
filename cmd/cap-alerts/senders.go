package main

import (
	"log/slog"

	"github.com/mr1hm/go-cap-alerts/internal/config"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/sender"
)

// newSenders registers one breaker-wrapped transport per configured channel.
// With nothing configured every channel goes to the log sender, which is
// what a development setup wants.
func newSenders(cfg *config.Config) *sender.Registry {
	reg := sender.NewRegistry()
	breakers := sender.DefaultBreakerConfig()

	if cfg.SMTP.Host != "" {
		smtp, err := sender.NewSMTP(sender.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			NoVerify: cfg.SMTP.NoVerify,
		})
		if err != nil {
			slog.Error("smtp sender disabled", "error", err)
		} else {
			reg.Register(models.ChannelEmail, sender.NewBreaker("smtp", smtp, breakers))
		}
	}

	gateways := []struct {
		channel models.Channel
		url     string
	}{
		{models.ChannelSMS, cfg.Gateways.SMSURL},
		{models.ChannelTropo, cfg.Gateways.TropoURL},
		{models.ChannelTwitter, cfg.Gateways.TwitterURL},
		{models.ChannelHTTP, cfg.Gateways.HTTPURL},
	}
	for _, g := range gateways {
		if g.url == "" {
			continue
		}
		reg.Register(g.channel, sender.NewBreaker(string(g.channel), sender.NewGateway(g.url), breakers))
	}

	if len(reg.Channels()) == 0 {
		slog.Warn("no message transports configured, sends will only be logged")
		for _, ch := range models.Channels {
			reg.Register(ch, sender.Log{})
		}
	}
	slog.Info("senders configured", "channels", reg.Channels())
	return reg
}
