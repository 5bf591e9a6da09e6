// Package discovery implements the periodic port-range scan:
// per-URL reachability probe / card fetch / recovery detection, gating
// workflow acceptance with a synchronous startup scan before the
// periodic schedule takes over. Base URLs are merged from two
// sources: the static REMOTE_AGENT_HOSTS list and an optional
// hot-reloaded seed-hosts file watched via fsnotify. URLs of agents
// already in the registry are not added to the scan on their own.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
)

// Transport is the southbound surface Discovery needs: a full card
// fetch for never-before-seen URLs, and a cheap reachability probe for
// already-registered ones.
type Transport interface {
	FetchCard(ctx context.Context, baseURL string) (model.AgentCard, error)
	Probe(ctx context.Context, baseURL string) error
}

// Discoverer owns one scan cycle plus its periodic schedule.
type Discoverer struct {
	reg       *registry.Registry
	rpc       Transport
	hosts     []string
	portStart int
	portEnd   int
	seedPath  string

	seedMu    sync.RWMutex
	seedHosts []string

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New constructs a Discoverer. hosts is the static REMOTE_AGENT_HOSTS
// list; seedPath, if non-empty, names an optional hot-reloaded file of
// additional base URLs, one per line.
func New(reg *registry.Registry, rpc Transport, hosts []string, portStart, portEnd int, seedPath string) *Discoverer {
	return &Discoverer{reg: reg, rpc: rpc, hosts: hosts, portStart: portStart, portEnd: portEnd, seedPath: seedPath}
}

// currentHosts merges the static host list with whatever the seed file
// last loaded. Hosts discovered dynamically are never written back to
// the file (SPEC_FULL.md's Component C, point 3).
func (d *Discoverer) currentHosts() []string {
	d.seedMu.RLock()
	defer d.seedMu.RUnlock()
	out := make([]string, 0, len(d.hosts)+len(d.seedHosts))
	out = append(out, d.hosts...)
	out = append(out, d.seedHosts...)
	return out
}

func (d *Discoverer) loadSeedFile() {
	if d.seedPath == "" {
		return
	}
	f, err := os.Open(d.seedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnf("discovery: reading seed hosts file %q: %v", d.seedPath, err)
		}
		return
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}

	d.seedMu.Lock()
	d.seedHosts = hosts
	d.seedMu.Unlock()
	logging.Infof("discovery: loaded %d seed hosts from %s", len(hosts), d.seedPath)
}

// watchSeedFile hot-reloads the seed-hosts file on every write/create
// event, picked up on the next scheduled discovery tick without a
// restart. Failures to establish the watch are logged and never fatal:
// the seed file is a supplement to REMOTE_AGENT_HOSTS, not a
// requirement.
func (d *Discoverer) watchSeedFile(ctx context.Context) {
	if d.seedPath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warnf("discovery: starting seed file watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := d.seedPath
	if idx := strings.LastIndexByte(dir, '/'); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		logging.Warnf("discovery: watching seed hosts directory %q: %v", dir, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name == d.seedPath && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				d.loadSeedFile()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("discovery: seed file watcher error: %v", err)
		}
	}
}

// Scan runs one complete discovery cycle: the cartesian product of
// every current host and the configured port range, each URL probed or
// fetched concurrently.
func (d *Discoverer) Scan(ctx context.Context) {
	hosts := d.currentHosts()
	var wg sync.WaitGroup
	for _, host := range hosts {
		for port := d.portStart; port <= d.portEnd; port++ {
			target := candidateURL(host, port)
			wg.Add(1)
			go func(target string) {
				defer wg.Done()
				d.scanOne(ctx, target)
			}(target)
		}
	}
	wg.Wait()
}

func (d *Discoverer) scanOne(ctx context.Context, baseURL string) {
	if id, ok := d.reg.GetAgentIDByURL(baseURL); ok {
		if err := d.rpc.Probe(ctx, baseURL); err != nil {
			logging.Warnf("discovery: agent %s unreachable at %s, removing: %v", id, baseURL, err)
			d.reg.Remove(id)
			return
		}
		if snap, ok := d.reg.Get(id); ok && snap.Status == model.StatusBroken && snap.Context.BrokenReason == model.BrokenReasonOffline {
			d.reg.UpdateStatus(id, model.StatusAvailable, "", "")
			logging.Infof("discovery: agent %s reachable again, restored to available", id)
		}
		return
	}

	card, err := d.rpc.FetchCard(ctx, baseURL)
	if err != nil {
		// Most of the port range has nothing listening; this is the
		// overwhelmingly common outcome and must never propagate.
		return
	}
	card.URL = baseURL
	// Register is itself the under-lock duplicate recheck needed here:
	// if another goroutine won the race and registered this
	// URL first, Register replaces its card in place instead of minting
	// a second id.
	id := d.reg.Register(card)
	logging.Infof("discovery: registered agent %s (%s) at %s", id, card.Name, baseURL)
}

// StartScheduled runs the synchronous startup scan (gating workflow
// acceptance), starts the seed-file watcher, and
// begins the periodic cron schedule. It returns once the startup scan
// has completed; the periodic schedule and watcher keep running in the
// background until ctx is cancelled.
func (d *Discoverer) StartScheduled(ctx context.Context, intervalSeconds int) error {
	d.loadSeedFile()
	d.Scan(ctx)

	go d.watchSeedFile(ctx)

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	if _, err := c.AddFunc(spec, func() { d.Scan(ctx) }); err != nil {
		return fmt.Errorf("scheduling discovery every %ds: %w", intervalSeconds, err)
	}
	c.Start()

	d.cronMu.Lock()
	d.cron = c
	d.cronMu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

func candidateURL(host string, port int) string {
	host = strings.TrimSpace(host)
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Sprintf("%s:%d", host, port)
	}
	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), port)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
