package pool

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
)

// Config tunes the browser pool.
type Config struct {
	PoolSize      int           // Max live Chrome instances
	LaunchTimeout time.Duration // Budget for Chrome startup
	IdleTimeout   time.Duration // Idle age before an instance is reaped
}

// Instance is one managed headless Chrome process. Lighthouse connects to it
// over the CDP port.
type Instance struct {
	Port     int
	ctx      context.Context
	cancel   context.CancelFunc
	inUse    bool
	lastUsed time.Time
	useCount int
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Active    int `json:"active"`
	Idle      int `json:"idle"`
	Total     int `json:"total"`
	Capacity  int `json:"capacity"`
	TotalUses int `json:"total_uses"`
}

// BrowserPool manages a bounded set of headless Chrome processes, each with
// its own remote debugging port. Callers acquire an instance, point
// Lighthouse at its port, and release it back for reuse.
type BrowserPool struct {
	config Config
	logger arbor.ILogger
	sem    *semaphore.Weighted

	mu           sync.Mutex
	instances    []*Instance
	nextPort     int
	freePorts    []int
	initialized  bool
	shuttingDown bool
}

// NewBrowserPool creates an uninitialized pool.
func NewBrowserPool(logger arbor.ILogger, config Config) *BrowserPool {
	return &BrowserPool{
		config:   config,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(config.PoolSize)),
		nextPort: 9222,
	}
}

// FindChrome locates a Chrome or Chromium binary on the host.
func FindChrome() (string, error) {
	candidates := []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome")
	}
	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium binary found on PATH")
}

// Initialize validates that Chrome is installed. Instances are launched
// lazily on first acquire.
func (p *BrowserPool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	path, err := FindChrome()
	if err != nil {
		return err
	}

	p.initialized = true
	p.logger.Info().
		Str("chrome", path).
		Int("capacity", p.config.PoolSize).
		Msg("Browser pool initialized")
	return nil
}

// Acquire returns a browser instance and a release function. It blocks while
// the pool is at capacity. The semaphore is always taken before the pool
// lock; release marks the instance idle and frees the slot exactly once.
func (p *BrowserPool) Acquire(ctx context.Context) (*Instance, func(), error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("browser pool not initialized")
	}
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("browser pool is shutting down")
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	instance := p.availableLocked()
	if instance == nil {
		var err error
		instance, err = p.launchLocked()
		if err != nil {
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, nil, err
		}
		p.instances = append(p.instances, instance)
	}
	instance.inUse = true
	instance.useCount++
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			instance.inUse = false
			instance.lastUsed = time.Now()
			p.mu.Unlock()
			p.sem.Release(1)
		})
	}
	return instance, release, nil
}

// availableLocked returns an idle connected instance, pruning any that died.
func (p *BrowserPool) availableLocked() *Instance {
	for i := 0; i < len(p.instances); i++ {
		instance := p.instances[i]
		if instance.inUse {
			continue
		}
		if instanceConnected(instance.Port) {
			return instance
		}
		p.logger.Warn().Int("port", instance.Port).Msg("Browser disconnected, removing from pool")
		p.destroyLocked(i)
		i--
	}
	return nil
}

// instanceConnected probes the CDP http endpoint.
func instanceConnected(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// launchLocked starts a new Chrome process on a dedicated debugging port.
// Freed ports are reused before new ones are allocated.
func (p *BrowserPool) launchLocked() (*Instance, error) {
	var port int
	if len(p.freePorts) > 0 {
		port = p.freePorts[len(p.freePorts)-1]
		p.freePorts = p.freePorts[:len(p.freePorts)-1]
	} else {
		port = p.nextPort
		p.nextPort++
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("remote-debugging-port", fmt.Sprintf("%d", port)),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	startCtx, startCancel := context.WithTimeout(browserCtx, p.config.LaunchTimeout)
	defer startCancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		p.freePorts = append(p.freePorts, port)
		return nil, fmt.Errorf("browser failed to start on port %d: %w", port, err)
	}

	p.logger.Info().Int("port", port).Msg("Launched browser instance")
	return &Instance{
		Port:     port,
		ctx:      browserCtx,
		cancel:   cancel,
		lastUsed: time.Now(),
	}, nil
}

// destroyLocked closes the instance at index i and recycles its port.
func (p *BrowserPool) destroyLocked(i int) {
	instance := p.instances[i]
	instance.cancel()
	p.freePorts = append(p.freePorts, instance.Port)
	p.instances = append(p.instances[:i], p.instances[i+1:]...)
}

// CleanupIdle closes instances idle for longer than the configured timeout.
// Returns the number closed.
func (p *BrowserPool) CleanupIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	closed := 0
	now := time.Now()
	for i := 0; i < len(p.instances); i++ {
		instance := p.instances[i]
		if instance.inUse {
			continue
		}
		idle := now.Sub(instance.lastUsed)
		if idle > p.config.IdleTimeout {
			p.logger.Info().
				Int("port", instance.Port).
				Dur("idle", idle).
				Msg("Closing idle browser")
			p.destroyLocked(i)
			i--
			closed++
		}
	}
	return closed
}

// Shutdown closes every instance. The pool rejects acquires while shutting
// down.
func (p *BrowserPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shuttingDown = true
	for _, instance := range p.instances {
		instance.cancel()
		p.logger.Info().Int("port", instance.Port).Msg("Closed browser instance")
	}
	p.instances = nil
	p.initialized = false
	p.shuttingDown = false
	p.logger.Info().Msg("Browser pool shutdown complete")
}

// Stats returns current pool occupancy.
func (p *BrowserPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{Capacity: p.config.PoolSize}
	for _, instance := range p.instances {
		if instance.inUse {
			stats.Active++
		} else {
			stats.Idle++
		}
		stats.TotalUses += instance.useCount
	}
	stats.Total = len(p.instances)
	return stats
}
