package wizard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mr1hm/go-green-corridor/internal/device"
)

// Workspace is a user's wizard session together with the relay adapters
// their browser feeds.
type Workspace struct {
	Session *Session
	Devices *device.Remote
}

// Manager keeps at most one workspace per user and closes idle ones.
type Manager struct {
	committer Committer
	opts      Options
	cache     *gocache.Cache
	mu        sync.Mutex
}

func NewManager(committer Committer, opts Options, idleTTL time.Duration) *Manager {
	// expiry runs from Run so no janitor goroutine outlives the manager
	c := gocache.New(idleTTL, 0)
	c.OnEvicted(func(uid string, v any) {
		if ws, ok := v.(*Workspace); ok {
			ws.Session.Close()
			slog.Info("wizard session closed", "uid", uid)
		}
	})
	return &Manager{committer: committer, opts: opts, cache: c}
}

// Open discards any previous workspace of uid and starts a new run at the scan step.
func (m *Manager) Open(uid string, installer Installer) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Delete(uid)

	remote := device.NewRemote()
	sess := NewSession(Devices{
		Camera:      device.NewCamera(remote.Decoder),
		Geolocator:  remote.Geolocator,
		Orientation: remote.Orientation,
	}, m.committer, installer, m.opts)
	if err := sess.Start(); err != nil {
		sess.Close()
		return nil, err
	}

	ws := &Workspace{Session: sess, Devices: remote}
	m.cache.SetDefault(uid, ws)
	slog.Info("wizard session opened", "uid", uid)
	return ws, nil
}

// Get returns the workspace of uid and extends its idle deadline.
func (m *Manager) Get(uid string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache.Get(uid)
	if !ok {
		return nil, false
	}
	m.cache.SetDefault(uid, v)
	return v.(*Workspace), true
}

func (m *Manager) Close(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(uid)
}

func (m *Manager) Count() int {
	return m.cache.ItemCount()
}

// Run expires idle workspaces every interval until ctx is done, then
// closes all remaining ones.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.mu.Lock()
			m.cache.DeleteExpired()
			m.mu.Unlock()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.DeleteExpired()
	for uid := range m.cache.Items() {
		m.cache.Delete(uid)
	}
}
