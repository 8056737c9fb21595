package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/model"

	"github.com/nats-io/nats.go"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const flushTimeout = 5 * time.Second

var _ do.Shutdownable = (*Sink)(nil)

// Sink publishes telemetry records as JSON on a NATS subject.
type Sink struct {
	conn    *nats.Conn
	subject string
}

func New(di *do.Injector) (*Sink, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return Connect(cfg.Telemetry.NATS.URL, cfg.Telemetry.NATS.Token, cfg.Telemetry.NATS.Subject)
}

func Connect(url, token, subject string) (*Sink, error) {
	opts := []nats.Option{
		nats.Name("policyvoice"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, oops.In("natsbus").With("url", url).Wrapf(err, "nats connect")
	}

	return &Sink{conn: nc, subject: subject}, nil
}

// LogTelemetry returns only after the server acknowledged the flush, so a
// failure here is worth retrying.
func (s *Sink) LogTelemetry(ctx context.Context, record model.TelemetryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return oops.In("natsbus").Wrapf(err, "marshal telemetry")
	}

	if err := s.conn.Publish(s.subject, payload); err != nil {
		return oops.In("natsbus").With("subject", s.subject).Wrapf(err, "publish")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}

	if err := s.conn.FlushWithContext(ctx); err != nil {
		return oops.In("natsbus").With("subject", s.subject).Wrapf(err, "flush")
	}

	return nil
}

func (s *Sink) Shutdown() error {
	if s.conn.IsClosed() {
		return nil
	}

	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}

	return nil
}
