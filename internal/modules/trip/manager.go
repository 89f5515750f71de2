package trip

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/types"
)

// session is one Manager entry. ready is closed once Start has returned.
type session struct {
	c        *Controller
	ready    chan struct{}
	err      error
	lastUsed time.Time
}

// Manager keeps one started Controller per passenger and ends sessions that
// stay idle past Config.SessionIdleTimeout.
type Manager struct {
	deps Deps
	cfg  Config
	log  *logrus.Entry
	ctx  context.Context
	now  func() time.Time

	mu       sync.Mutex
	sessions map[types.ID]*session
	closed   bool
}

// NewManager binds every session it creates to ctx.
func NewManager(ctx context.Context, deps Deps, cfg Config, log *logrus.Entry) *Manager {
	return &Manager{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		log:      log,
		ctx:      ctx,
		now:      time.Now,
		sessions: make(map[types.ID]*session),
	}
}

// WithClock replaces the time source used for idle tracking.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Session returns the passenger's controller, creating and starting it on
// first use. Concurrent first calls for one passenger share a single Start.
func (m *Manager) Session(passengerID types.ID) (*Controller, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := m.sessions[passengerID]; ok {
		s.lastUsed = m.now()
		m.mu.Unlock()
		<-s.ready
		if s.err != nil {
			return nil, s.err
		}
		return s.c, nil
	}
	s := &session{
		c:        NewController(passengerID, m.deps, m.cfg, m.log),
		ready:    make(chan struct{}),
		lastUsed: m.now(),
	}
	m.sessions[passengerID] = s
	m.mu.Unlock()

	if err := s.c.Start(m.ctx); err != nil {
		s.err = err
		m.mu.Lock()
		if m.sessions[passengerID] == s {
			delete(m.sessions, passengerID)
		}
		m.mu.Unlock()
		close(s.ready)
		s.c.Close()
		return nil, err
	}
	close(s.ready)
	return s.c, nil
}

// End closes one passenger's session.
func (m *Manager) End(passengerID types.ID) {
	m.mu.Lock()
	s, ok := m.sessions[passengerID]
	delete(m.sessions, passengerID)
	m.mu.Unlock()
	if ok {
		<-s.ready
		s.c.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run ends idle sessions every SessionReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SessionReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.log.WithField("count", n).Info("idle sessions ended")
			}
		}
	}
}

// Reap closes sessions unused for SessionIdleTimeout that hold no booking
// and have no subscribers. It returns how many were closed.
func (m *Manager) Reap() int {
	now := m.now()
	var idle []*Controller
	m.mu.Lock()
	for id, s := range m.sessions {
		select {
		case <-s.ready:
		default:
			continue
		}
		if now.Sub(s.lastUsed) < m.cfg.SessionIdleTimeout || !s.c.Idle() {
			continue
		}
		delete(m.sessions, id)
		idle = append(idle, s.c)
	}
	m.mu.Unlock()

	closeAll(idle)
	return len(idle)
}

// Close ends every session and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[types.ID]*session)
	m.mu.Unlock()

	controllers := make([]*Controller, 0, len(sessions))
	for _, s := range sessions {
		<-s.ready
		controllers = append(controllers, s.c)
	}
	closeAll(controllers)
}

func closeAll(controllers []*Controller) {
	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
