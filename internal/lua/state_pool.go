package lua

import (
	"context"
	"errors"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// StatePool bounds the number of live Lua states. A state is used by one
// request at a time.
type StatePool struct {
	pool        chan *lua.LState
	maxStates   int
	createState func() *lua.LState
	mu          sync.Mutex
	created     int
	closed      bool
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Max       int `json:"max"`
	Created   int `json:"created"`
	Available int `json:"available"`
}

// NewStatePool creates a pool that lazily builds up to maxStates states.
func NewStatePool(maxStates int, createState func() *lua.LState) *StatePool {
	if maxStates < 1 {
		maxStates = 1
	}
	return &StatePool{
		pool:        make(chan *lua.LState, maxStates),
		maxStates:   maxStates,
		createState: createState,
	}
}

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("lua state pool is closed")

// Get takes an idle state, creates one while under the limit, or waits until
// a state is returned, replaced or ctx is done.
func (p *StatePool) Get(ctx context.Context) (*lua.LState, error) {
	select {
	case L := <-p.pool:
		return L, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.created < p.maxStates {
		p.created++
		p.mu.Unlock()
		return p.createState(), nil
	}
	p.mu.Unlock()

	select {
	case L := <-p.pool:
		return L, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns L to the pool.
func (p *StatePool) Put(L *lua.LState) {
	if L == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		L.Close()
		p.created--
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case p.pool <- L:
	default:
		p.release(L)
	}
}

// Discard closes L instead of returning it. States whose execution was
// interrupted are discarded. While the pool is open the slot is refilled
// with a fresh state so waiters in Get are served.
func (p *StatePool) Discard(L *lua.LState) {
	if L == nil {
		return
	}

	L.Close()
	fresh := p.createState()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		select {
		case p.pool <- fresh:
			return
		default:
		}
	}
	fresh.Close()
	p.created--
}

// release closes L and frees its slot.
func (p *StatePool) release(L *lua.LState) {
	L.Close()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

// Stats reports current usage.
func (p *StatePool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{Max: p.maxStates, Created: p.created, Available: len(p.pool)}
}

// Close closes all idle states. States still in use are closed when put back.
func (p *StatePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case L := <-p.pool:
			p.release(L)
		default:
			return
		}
	}
}
