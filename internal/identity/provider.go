// Package identity provides the identity-change notifications the presence
// service binds to.
package identity

import (
	"sync"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// Provider remembers the current identity and tells subscribers about every
// change. New subscribers are called with the current identity immediately.
type Provider struct {
	mu        sync.Mutex
	current   *models.Identity
	listeners fanout.Set[*models.Identity]
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) OnIdentityChanged(fn func(*models.Identity)) (store.Unsubscribe, error) {
	remove := p.listeners.Add(fn)
	fn(p.Current())
	return store.Once(remove), nil
}

// SignIn makes id the current identity.
func (p *Provider) SignIn(id models.Identity) {
	p.mu.Lock()
	p.current = &id
	p.mu.Unlock()

	p.listeners.Notify(&id)
}

// SignOut clears the current identity.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.listeners.Notify(nil)
}

func (p *Provider) Current() *models.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	id := *p.current
	return &id
}

func (p *Provider) Subscribers() int {
	return p.listeners.Len()
}
