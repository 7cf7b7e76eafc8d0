package remote

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/runicorn/runicorn/internal/telemetry"
)

// idleEviction is how long an unused pooled connection is kept alive
// before Pool closes it.
const idleEviction = 10 * time.Minute

// Pool keeps at most one live *ssh.Client per (user, host, port), reused
// across a launch, a health check, and a stop sequence so a remote
// session does not pay a fresh handshake for every operation.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*pooledClient
	log     *zap.Logger
}

type pooledClient struct {
	client *ssh.Client
	timer  *time.Timer
	refs   int
}

// NewPool builds an empty connection pool.
func NewPool(log *zap.Logger) *Pool {
	return &Pool{
		clients: make(map[string]*pooledClient),
		log:     log.Named("remote.pool"),
	}
}

func poolKey(opts ConnectOptions) string {
	return fmt.Sprintf("%s@%s:%d", opts.User, opts.Host, opts.Port)
}

// Acquire returns a live client for opts, dialing one if the pool has
// none or the pooled one has died. The returned release func must be
// called when the caller is done with the client; the underlying
// connection is not closed immediately but kept warm for idleEviction.
func (p *Pool) Acquire(opts ConnectOptions, hk *KnownHosts) (*ssh.Client, func(), error) {
	key := poolKey(opts)

	p.mu.Lock()
	if pc, ok := p.clients[key]; ok && !isDead(pc.client) {
		pc.refs++
		if pc.timer != nil {
			pc.timer.Stop()
		}
		p.mu.Unlock()
		return pc.client, p.releaseFunc(key), nil
	}
	p.mu.Unlock()

	client, err := Connect(opts, hk)
	if err != nil {
		return nil, nil, err
	}

	pc := &pooledClient{client: client, refs: 1}
	p.mu.Lock()
	p.clients[key] = pc
	p.mu.Unlock()
	telemetry.SSHConnections.Inc()

	return client, p.releaseFunc(key), nil
}

func (p *Pool) releaseFunc(key string) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		pc, ok := p.clients[key]
		if !ok {
			return
		}
		pc.refs--
		if pc.refs > 0 {
			return
		}
		pc.timer = time.AfterFunc(idleEviction, func() { p.evict(key) })
	}
}

func (p *Pool) evict(key string) {
	p.mu.Lock()
	pc, ok := p.clients[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	if pc.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.clients, key)
	p.mu.Unlock()
	telemetry.SSHConnections.Dec()

	p.log.Debug("evicting idle ssh connection", zap.String("key", key))
	_ = pc.client.Close()
}

// Close closes every pooled connection immediately, ignoring reference
// counts. Used on process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pc := range p.clients {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		_ = pc.client.Close()
		delete(p.clients, key)
		telemetry.SSHConnections.Dec()
	}
}

func isDead(c *ssh.Client) bool {
	if c == nil {
		return true
	}
	_, _, err := c.SendRequest("keepalive@runicorn", true, nil)
	return err != nil
}
