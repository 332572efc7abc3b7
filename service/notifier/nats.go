package notifier

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"edgemon-go/model"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
)

type natsService struct {
	conn     *nats.Conn
	subject  string
	cooldown time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

// NewNats connects to the configured NATS server and publishes alert
// events on the alerts subject. Events inside the notify cooldown are
// absorbed so one unfolding incident does not flood subscribers.
func NewNats(cfgsvc config.IService) (IService, error) {
	opts := []nats.Option{
		nats.Name("edgemon-notifier"),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
	}

	conn, err := nats.Connect(cfgsvc.GetNatsURL(), opts...)
	if err != nil {
		return nil, err
	}

	lgr.Logger.Info(
		"nats notifier connected",
		slog.String("url", cfgsvc.GetNatsURL()),
		slog.String("subject", cfgsvc.GetAlertsSubject()),
	)

	return &natsService{
		conn:     conn,
		subject:  cfgsvc.GetAlertsSubject(),
		cooldown: cfgsvc.GetNotifyCooldown(),
	}, nil
}

func (svc *natsService) Notify(event model.AlertEvent) error {
	svc.mu.Lock()
	if !svc.lastSent.IsZero() && event.Timestamp.Sub(svc.lastSent) < svc.cooldown {
		svc.mu.Unlock()
		lgr.Logger.Debug(
			"alert notification suppressed by cooldown",
			slog.Uint64("frameSeq", event.FrameSeq),
		)
		return nil
	}
	svc.lastSent = event.Timestamp
	svc.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return svc.conn.Publish(svc.subject, payload)
}

func (svc *natsService) Close() {
	if svc.conn == nil {
		return
	}
	// Graceful drain first, hard close as fallback
	if err := svc.conn.Drain(); err != nil {
		lgr.Logger.Warn("failed to drain nats connection", slog.Any("error", err))
		svc.conn.Close()
	}
}
