package telegram

import (
	"sync"
	"time"

	"github.com/karwadev/bannerbot/internal/models"
)

type SessionStep int

const (
	StepIdle SessionStep = iota
	StepAwaitingFormat
	StepAwaitingText
	StepAwaitingImage
)

// Session is the per-chat conversational state between a command and the
// input that completes it.
type Session struct {
	Mode         models.Mode
	Step         SessionStep
	Target       models.AspectTarget
	LastActivity time.Time
}

// StateManager holds sessions keyed by chat id. Stale sessions expire after
// the configured TTL so an abandoned flow never traps the next command.
type StateManager struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[int64]*Session
}

func NewStateManager(ttl time.Duration) *StateManager {
	return &StateManager{
		ttl:      ttl,
		sessions: make(map[int64]*Session),
	}
}

func (m *StateManager) Get(chatID int64) *Session {
	m.mu.RLock()
	session, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if ok && time.Since(session.LastActivity) <= m.ttl {
		return session
	}
	if ok {
		m.Reset(chatID)
	}
	return &Session{Step: StepIdle}
}

func (m *StateManager) Set(chatID int64, session *Session) {
	session.LastActivity = time.Now()
	m.mu.Lock()
	m.sessions[chatID] = session
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}
