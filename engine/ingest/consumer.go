package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/pkg/natsutil"
)

const (
	// Subject is the NATS subject carrying products to ingest.
	Subject = "stylesearch.ingest"
	// DLQSubject receives products that kept failing.
	DLQSubject = "stylesearch.ingest.dlq"
	// QueueGroup lets several workers share Subject.
	QueueGroup = "stylesearch-ingest"
	// MaxRetries before a product goes to the DLQ.
	MaxRetries = 3
	// DefaultJobTimeout bounds one ingestion run, video wait included.
	DefaultJobTimeout = 15 * time.Minute
)

// Ingester is what the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, p domain.Product) (Result, error)
}

// ConsumerOpts configures StartConsumer.
type ConsumerOpts struct {
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// DLQMessage is published to DLQSubject on repeated failure or when a
// message cannot be decoded.
type DLQMessage struct {
	Product *domain.Product `json:"product,omitempty"`
	Raw     string          `json:"raw,omitempty"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}

// Publish queues a product for asynchronous ingestion.
func Publish(ctx context.Context, nc *nats.Conn, p domain.Product) error {
	return natsutil.Publish(ctx, nc, Subject, p)
}

// StartConsumer subscribes to Subject and runs each product through ing.
// Failures are republished with an incremented retry header until MaxRetries,
// then sent to the DLQ. Invalid products and already ingested ones are not
// retried.
func StartConsumer(nc *nats.Conn, ing Ingester, opts ConsumerOpts) (*nats.Subscription, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	onMalformed := func(msg *nats.Msg, err error) {
		log.Error("ingest: unmarshal failed", "err", err)
		deadLetter(context.Background(), nc, log, DLQMessage{Raw: string(msg.Data), Error: err.Error()})
	}

	return natsutil.Subscribe(nc, Subject, QueueGroup, func(ctx context.Context, p domain.Product, msg *nats.Msg) {
		retries := natsutil.RetryCount(msg)

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := ing.Ingest(jobCtx, p)
		cancel()

		switch {
		case err == nil:
			log.Info("ingest: consumed", "product_id", res.ProductID, "retry", retries)
		case errors.Is(err, domain.ErrAlreadyIngested):
			log.Info("ingest: skipping duplicate", "product_id", p.ProductID)
		case errors.Is(err, domain.ErrMissingField):
			deadLetter(ctx, nc, log, DLQMessage{Product: &p, Error: err.Error(), Retries: retries})
		default:
			retries++
			if retries >= MaxRetries {
				deadLetter(ctx, nc, log, DLQMessage{Product: &p, Error: err.Error(), Retries: retries})
				break
			}
			if perr := natsutil.PublishRaw(ctx, nc, Subject, msg.Data, retries); perr != nil {
				log.Error("ingest: retry publish failed", "product_id", p.ProductID, "err", perr)
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	}, onMalformed)
}

func deadLetter(ctx context.Context, nc *nats.Conn, log *slog.Logger, m DLQMessage) {
	if err := natsutil.Publish(ctx, nc, DLQSubject, m); err != nil {
		log.Error("ingest: DLQ publish failed", "err", err)
		return
	}
	log.Warn("ingest: sent to DLQ", "error", m.Error, "retries", m.Retries)
}
