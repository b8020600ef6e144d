package services

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
)

// PushService wakes an offline agent with a silent push so it reconnects and
// drains its pending commands.
type PushService struct {
	client *apns2.Client
	topic  string
}

// NewPushService creates a new push service from a .p12 certificate bundle.
func NewPushService(certFile, certPassword, topic string, production bool) (*PushService, error) {
	cert, err := certificate.FromP12File(certFile, certPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load push certificate: %w", err)
	}

	client := apns2.NewClient(cert)
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushService{client: client, topic: topic}, nil
}

// Wake sends a content-available push carrying the pending command type.
func (s *PushService) Wake(pushToken, cmdType string) error {
	n := &apns2.Notification{
		DeviceToken: pushToken,
		Topic:       s.topic,
		Payload: payload.NewPayload().
			ContentAvailable().
			Custom("command_type", cmdType),
	}

	res, err := s.client.Push(n)
	if err != nil {
		return fmt.Errorf("failed to send wake push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("wake push rejected: %s", res.Reason)
	}

	log.Debug().Str("reason", res.Reason).Msg("Wake push sent")
	return nil
}
