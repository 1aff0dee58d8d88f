package node

import "sync"

// pool bounds the goroutines processing inbound FORWARD envelopes.
type pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	return &pool{slots: make(chan struct{}, size)}
}

// tryGo runs fn on a new goroutine if a slot is free. It never blocks, so a
// link reader calling it keeps draining callbacks while the pool is full.
func (p *pool) tryGo(fn func()) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		fn()
	}()
	return true
}

func (p *pool) busy() int { return len(p.slots) }

func (p *pool) wait() { p.wg.Wait() }
