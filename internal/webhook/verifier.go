package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/hub"
	"github.com/Priya8975/channel-ingest/internal/metrics"
)

var ErrMissingParams = errors.New("missing hub parameters")

// Registry is the part of the subscription registry the verifier consults.
type Registry interface {
	LookupTopic(topic string) (domain.ChannelSubscription, bool)
	MarkActive(ctx context.Context, channelID string, lease time.Duration) error
	MarkFailed(ctx context.Context, channelID, reason string) error
	ChannelSecrets() []string
}

// Handshake is one verification request from the hub.
type Handshake struct {
	Mode         string
	Topic        string
	Challenge    string
	LeaseSeconds string
	Reason       string
}

// Verifier answers hub handshakes and authenticates push bodies.
type Verifier struct {
	registry      Registry
	secret        string
	skipSignature bool
	counters      *metrics.Counters
	logger        *slog.Logger
}

func NewVerifier(registry Registry, secret string, skipSignature bool, counters *metrics.Counters, logger *slog.Logger) *Verifier {
	if skipSignature {
		logger.Warn("push signature verification disabled, running in degraded mode")
	}
	return &Verifier{
		registry:      registry,
		secret:        secret,
		skipSignature: skipSignature,
		counters:      counters,
		logger:        logger,
	}
}

// Handshake validates a hub verification request and returns the challenge
// to echo. Confirmed subscriptions record their lease.
func (v *Verifier) Handshake(ctx context.Context, h Handshake) (string, error) {
	if h.Mode == "" || h.Topic == "" {
		return "", ErrMissingParams
	}

	sub, ok := v.registry.LookupTopic(h.Topic)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownChannel, h.Topic)
	}

	switch h.Mode {
	case hub.ModeDenied:
		reason := h.Reason
		if reason == "" {
			reason = "subscription denied by hub"
		}
		if err := v.registry.MarkFailed(ctx, sub.ChannelID, reason); err != nil {
			v.logger.Warn("could not record hub denial", "error", err, "channel_id", sub.ChannelID)
		}
		return "", nil

	case hub.ModeSubscribe:
		if h.Challenge == "" {
			return "", ErrMissingParams
		}
		if sub.State == domain.StateUnsubscribed {
			return "", fmt.Errorf("%w: subscribe not requested for %s", domain.ErrUnknownChannel, sub.ChannelID)
		}
		if secs, err := strconv.Atoi(h.LeaseSeconds); err == nil && secs > 0 {
			if err := v.registry.MarkActive(ctx, sub.ChannelID, time.Duration(secs)*time.Second); err != nil {
				return "", err
			}
		}
		v.logger.Info("subscription verified",
			"channel_id", sub.ChannelID,
			"lease_seconds", h.LeaseSeconds,
		)
		return h.Challenge, nil

	case hub.ModeUnsubscribe:
		if h.Challenge == "" {
			return "", ErrMissingParams
		}
		if sub.State != domain.StateUnsubscribed {
			return "", fmt.Errorf("%w: unsubscribe not requested for %s", domain.ErrUnknownChannel, sub.ChannelID)
		}
		v.logger.Info("unsubscription verified", "channel_id", sub.ChannelID)
		return h.Challenge, nil

	default:
		return "", fmt.Errorf("%w: mode %q", ErrMissingParams, h.Mode)
	}
}

// VerifyPush checks the body's signature against the global secret and every
// channel secret. It returns domain.ErrAuthentication on mismatch.
func (v *Verifier) VerifyPush(body []byte, signature string) error {
	if signature == "" {
		if v.skipSignature {
			v.counters.UnsignedPushes.Add(1)
			v.logger.Warn("accepting unsigned push, degraded mode")
			return nil
		}
		return fmt.Errorf("%w: missing %s", domain.ErrAuthentication, SignatureHeader)
	}

	newHash, sum, err := parseSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}

	secrets := v.registry.ChannelSecrets()
	if v.secret != "" {
		secrets = append([]string{v.secret}, secrets...)
	}
	if len(secrets) == 0 && v.skipSignature {
		v.counters.UnsignedPushes.Add(1)
		return nil
	}

	for _, secret := range secrets {
		if validSignature(newHash, sum, body, secret) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", domain.ErrAuthentication)
}
