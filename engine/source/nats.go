package source

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/examfit/corpus/pkg/natsutil"
)

// FetchRequest asks a remote scraper for its latest batch.
type FetchRequest struct {
	Source string `json:"source"`
}

// NATS asks a scraper service for its batch over request/reply.
type NATS struct {
	name    string
	subject string
	nc      *nats.Conn
	timeout time.Duration
	now     func() time.Time
}

// NewNATS creates a source that requests subject. A timeout of zero uses
// natsutil.DefaultRequestTimeout.
func NewNATS(name, subject string, nc *nats.Conn, timeout time.Duration) *NATS {
	return &NATS{name: name, subject: subject, nc: nc, timeout: timeout, now: time.Now}
}

func (s *NATS) Name() string { return s.name }

func (s *NATS) Fetch(ctx context.Context) (Payload, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	p, err := natsutil.Request[FetchRequest, Payload](ctx, s.nc, s.subject, FetchRequest{Source: s.name})
	if err != nil {
		return Payload{}, err
	}
	now := s.now()
	for i := range p.Records {
		p.Records[i] = complete(p.Records[i], s.name, now)
	}
	return p, nil
}

// Serve exposes f on subject so a NATS source elsewhere can read it.
func Serve(nc *nats.Conn, subject string, f Fetcher) (*nats.Subscription, error) {
	return natsutil.Respond(nc, subject, func(ctx context.Context, _ FetchRequest) (Payload, error) {
		return f.Fetch(ctx)
	})
}
