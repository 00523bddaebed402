package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pooledConn is one live SMTP session, reused across sends to the same peer.
type pooledConn struct {
	mu      sync.Mutex
	client  *smtp.Client
	limiter *rate.Limiter
}

// Pool is an SMTP Transport that keeps one verified connection per
// (host, port, user) tuple. Each connection carries a smoothing limiter so a
// burst of jobs does not slam a single provider.
type Pool struct {
	mu     sync.Mutex
	conns  map[string]*pooledConn
	logger *zap.Logger

	// sends per second per connection; burst 1 keeps submissions evenly spaced
	perConnRate rate.Limit
}

func NewPool(logger *zap.Logger) *Pool {
	return &Pool{
		conns:       make(map[string]*pooledConn),
		logger:      logger,
		perConnRate: rate.Limit(5),
	}
}

func poolKey(s Settings) string {
	return fmt.Sprintf("%s:%d:%s", s.Host, s.Port, s.Username)
}

func (p *Pool) conn(s Settings) *pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := poolKey(s)
	c, ok := p.conns[key]
	if !ok {
		c = &pooledConn{limiter: rate.NewLimiter(p.perConnRate, 1)}
		p.conns[key] = c
	}
	return c
}

// Send submits the envelope over the pooled connection for its settings,
// dialing and authenticating on first use. A failed session is torn down so
// the next send reconnects.
func (p *Pool) Send(ctx context.Context, settings Settings, env Envelope) (*Result, error) {
	c := p.conn(settings)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		client, err := smtpConnect(settings)
		if err != nil {
			return nil, err
		}
		c.client = client
		p.logger.Info("SMTP connection established",
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
		)
	}

	messageID, err := submit(c.client, settings, env)
	if err != nil {
		// The session state is unknown after a failure; drop it.
		_ = c.client.Close()
		c.client = nil
		return nil, err
	}

	return &Result{MessageID: messageID}, nil
}

// Close flushes and closes every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, c := range p.conns {
		c.mu.Lock()
		if c.client != nil {
			if err := c.client.Quit(); err != nil {
				p.logger.Debug("SMTP quit failed", zap.String("conn", key), zap.Error(err))
			}
			c.client = nil
		}
		c.mu.Unlock()
	}
	p.conns = make(map[string]*pooledConn)
}
