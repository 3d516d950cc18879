// Package access threads caller identity through privileged operations.
//
// There is no ambient "am I admin" state: every admin call receives the Caller
// explicitly and asks the Policy to authorize it.
package access

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

// Caller identifies who invoked an operation.
type Caller struct {
	ID string
}

// System is the identity used by in-process maintenance (keeper loop).
var System = Caller{ID: "system"}

// String returns the account id.
func (c Caller) String() string {
	return c.ID
}

// Policy holds the set of administrator identities.
type Policy struct {
	mu     sync.RWMutex
	admins map[string]bool
}

// NewPolicy creates a policy; the System caller is always an administrator.
func NewPolicy(admins ...string) *Policy {
	p := &Policy{admins: map[string]bool{System.ID: true}}
	for _, a := range admins {
		a = strings.TrimSpace(a)
		if a != "" {
			p.admins[a] = true
		}
	}
	return p
}

// RequireAdmin fails with apperr.ErrUnauthorized unless caller is an administrator.
func (p *Policy) RequireAdmin(caller Caller) error {
	p.mu.RLock()
	ok := p.admins[caller.ID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("caller %q is not an administrator: %w", caller.ID, apperr.ErrUnauthorized)
	}
	return nil
}

// IsAdmin reports whether caller is an administrator.
func (p *Policy) IsAdmin(caller Caller) bool {
	return p.RequireAdmin(caller) == nil
}

// Grant adds an administrator. Only an existing administrator may grant.
func (p *Policy) Grant(by Caller, id string) error {
	if err := p.RequireAdmin(by); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("empty admin id: %w", apperr.ErrInvalidArgument)
	}
	p.mu.Lock()
	p.admins[id] = true
	p.mu.Unlock()
	return nil
}

// Admins returns the administrator ids, sorted.
func (p *Policy) Admins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.admins))
	for id := range p.admins {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
