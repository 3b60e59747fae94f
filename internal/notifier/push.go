package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// pushTTL bounds how long FCM retries delivery of an operator alert before
// giving up.
const pushTTL = 30 * time.Second

// PushSender delivers operator alerts as an FCM data message. Grounded in
// internal/pushgw/fcm.go's FCMSender, generalized from an incoming-call
// wakeup payload to a generic queue-pressure alert.
type PushSender struct {
	client *messaging.Client
	logger *slog.Logger
}

// NewPushSender initializes a Firebase app from the service-account JSON
// file at credentialsFile. If credentialsFile is empty, the SDK falls back
// to GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewPushSender(ctx context.Context, credentialsFile string, logger *slog.Logger) (*PushSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	return &PushSender{client: client, logger: logger.With("subsystem", "notifier-push")}, nil
}

// Notify implements recordingqueue.Notifier. recipient is the operator's FCM
// registration token.
func (p *PushSender) Notify(ctx context.Context, recipient, subject, body string) error {
	ttl := pushTTL
	msg := &messaging.Message{
		Token: recipient,
		Data: map[string]string{
			"type":    "queue_pressure",
			"subject": subject,
			"body":    body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := p.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("notifier: fcm token no longer valid: %w", err)
		}
		return fmt.Errorf("notifier: fcm send failed: %w", err)
	}

	p.logger.Debug("operator alert push sent", "message_id", id)
	return nil
}
