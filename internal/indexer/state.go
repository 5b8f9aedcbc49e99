package indexer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a repository index
type State string

// Index states
const (
	StateStandby  State = "standby"
	StateIndexing State = "indexing"
	StateIndexed  State = "indexed"
	StateError    State = "error"
)

// ErrInvalidTransition is returned by SetState for a transition the
// lifecycle does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateStandby:  {StateIndexing},
	StateIndexing: {StateIndexed},
	StateIndexed:  {StateStandby},
	StateError:    {StateStandby},
}

func canTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is a snapshot of a repository's indexing state
type Status struct {
	RepositoryID  string    `json:"repository_id"`
	State         State     `json:"state"`
	Message       string    `json:"message,omitempty"`
	BlocksIndexed int       `json:"blocks_indexed"`
	BlocksFound   int       `json:"blocks_found"`
	Progress      int       `json:"progress"` // 0-100
	UpdatedAt     time.Time `json:"updated_at"`
}

// StateMachine holds the state of one repository index and publishes every
// change to its subscribers.
//
// Subscriber channels hold one status. A subscriber that falls behind sees
// only the latest status, never a stale one.
type StateMachine struct {
	mu       sync.Mutex
	status   Status
	subs     map[int]chan Status
	nextID   int
	disposed bool
	now      func() time.Time
}

// NewStateMachine creates a state machine in Standby
func NewStateMachine(repositoryID string) *StateMachine {
	m := &StateMachine{
		subs: make(map[int]chan Status),
		now:  time.Now,
	}
	m.status = Status{
		RepositoryID: repositoryID,
		State:        StateStandby,
		UpdatedAt:    m.now(),
	}
	return m
}

// SetState moves to state. Standby to Standby is a no-op; entering
// Indexing resets the counters.
func (m *StateMachine) SetState(state State, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.status.State
	if from == StateStandby && state == StateStandby {
		return nil
	}
	if !canTransition(from, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, state)
	}

	m.status.State = state
	m.status.Message = message
	switch state {
	case StateIndexing:
		m.status.BlocksIndexed = 0
		m.status.BlocksFound = 0
		m.status.Progress = 0
	case StateIndexed:
		m.status.Progress = 100
	}
	m.status.UpdatedAt = m.now()
	m.publishLocked()
	return nil
}

// SetMessage replaces the status message without changing state
func (m *StateMachine) SetMessage(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.Message = message
	m.status.UpdatedAt = m.now()
	m.publishLocked()
}

// ReportProgress records cumulative block counters
func (m *StateMachine) ReportProgress(indexed, found int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.BlocksIndexed = indexed
	m.status.BlocksFound = found
	m.status.Progress = percent(indexed, found)
	m.status.UpdatedAt = m.now()
	m.publishLocked()
}

func percent(indexed, found int) int {
	if found <= 0 {
		return 0
	}
	p := indexed * 100 / found
	return max(0, min(p, 100))
}

// Status returns the current snapshot
func (m *StateMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel receiving every later status and a function
// that unsubscribes. The channel is closed on unsubscribe or Dispose.
func (m *StateMachine) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Status, 1)
	if m.disposed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextID
	m.nextID++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
}

// publishLocked replaces any undelivered status with the current one
func (m *StateMachine) publishLocked() {
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.status
	}
}

// Dispose closes all subscriber channels. Later state changes are still
// recorded but no longer published.
func (m *StateMachine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.disposed = true
}
