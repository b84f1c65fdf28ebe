package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/forgewatch/forgewatch/agent/internal/config"
	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper queues batches and pushes them to the server.
type Shipper struct {
	cfg     config.AgentConfig
	agentID string
	buf     chan types.Batch
	dialFn  dialFunc

	// pending is a batch whose send failed transiently; it goes out first
	// on the next connection. Only Run touches it.
	pending types.Batch
}

type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper that identifies itself as agentID.
func New(cfg config.AgentConfig, agentID string) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:     cfg,
		agentID: agentID,
		buf:     make(chan types.Batch, size),
		dialFn:  defaultDial,
	}
}

// Ship enqueues b, dropping the oldest queued batch when the queue is full.
func (s *Shipper) Ship(b types.Batch) {
	for {
		select {
		case s.buf <- b:
			return
		default:
		}
		select {
		case <-s.buf:
			slog.Warn("shipper: queue full, dropped oldest batch", "queue_cap", cap(s.buf))
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for ctx.Err() == nil {
		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, wire.NewClient(conn), bo)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: send failed, will reconnect",
			"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain pushes queued batches until a transient error or ctx cancellation.
func (s *Shipper) drain(ctx context.Context, client *wire.Client, bo *backoff) error {
	for {
		batch := s.pending
		if batch == nil {
			select {
			case <-ctx.Done():
				return nil
			case batch = <-s.buf:
			}
		}

		err := s.push(ctx, client, batch)
		switch {
		case err == nil:
			s.pending = nil
			bo.reset()
		case isPermanentError(err):
			slog.Error("shipper: batch refused, discarding", "machines", len(batch), "err", err)
			s.pending = nil
		default:
			s.pending = batch
			return fmt.Errorf("push: %w", err)
		}
	}
}

func (s *Shipper) push(ctx context.Context, client *wire.Client, batch types.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" {
		ctx = metadata.AppendToOutgoingContext(ctx, s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key())
	}

	resp, err := client.Push(ctx, &wire.PushRequest{AgentID: s.agentID, Readings: batch})
	if err != nil {
		return err
	}
	for id, errs := range resp.Rejected {
		slog.Warn("shipper: reading rejected by server", "machine", id, "errors", len(errs))
	}
	slog.Debug("shipper: batch delivered",
		"applied", len(resp.Applied),
		"duplicates", len(resp.Duplicates),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// isPermanentError reports whether retrying err cannot succeed.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc v1.62 compat
}

func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode != "mtls" {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
	creds, err := mtlsCreds(cfg.ServerAuth)
	if err != nil {
		return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
}

func mtlsCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

// backoff is truncated exponential backoff with ±25% jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

func (b *backoff) next() time.Duration {
	d := b.current + time.Duration(float64(b.current)*0.25*(rand.Float64()*2-1)) //nolint:gosec // jitter
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
