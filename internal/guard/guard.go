// Package guard decides whether a navigation is admitted from the session
// state, and makes sure each mounted guard asks the server exactly once.
package guard

import (
	"context"
	"sync"

	"student-assistant/internal/session"
)

// Default redirect targets.
const (
	SignInPath  = "/admin/signin"
	LandingPath = "/chat/interface"
)

// Verdict is the outcome of a guard decision.
type Verdict int

const (
	// Pending means the session is still being checked: render a placeholder
	// and do not redirect.
	Pending Verdict = iota
	Admit
	Redirect
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case Admit:
		return "admit"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is a Verdict plus the redirect target when Verdict is Redirect.
type Decision struct {
	Verdict Verdict
	Target  string
}

// Requirement is the predicate a guarded route imposes on the session.
type Requirement struct {
	kind     kind
	role     string
	redirect string
}

type kind int

const (
	kindAuthenticated kind = iota
	kindUnauthenticated
	kindRole
)

// RequireAuthenticated admits any signed-in visitor and sends everyone else
// to the sign-in page.
func RequireAuthenticated() Requirement {
	return Requirement{kind: kindAuthenticated, redirect: SignInPath}
}

// RequireUnauthenticated admits anonymous visitors only and sends signed-in
// visitors to the landing page.
func RequireUnauthenticated() Requirement {
	return Requirement{kind: kindUnauthenticated, redirect: LandingPath}
}

// RequireRole admits signed-in visitors whose role equals role.
func RequireRole(role string) Requirement {
	return Requirement{kind: kindRole, role: role, redirect: LandingPath}
}

// RedirectTo overrides the redirect target.
func (r Requirement) RedirectTo(path string) Requirement {
	r.redirect = path
	return r
}

// Decide is a pure function of the requirement and the session state.
func Decide(req Requirement, st session.State) Decision {
	if st.Checking() {
		return Decision{Verdict: Pending}
	}
	admitted := false
	switch req.kind {
	case kindAuthenticated:
		admitted = st.Identity != nil
	case kindUnauthenticated:
		admitted = st.Identity == nil
	case kindRole:
		admitted = st.Identity != nil && st.Identity.RoleName() == req.role
	}
	if admitted {
		return Decision{Verdict: Admit}
	}
	return Decision{Verdict: Redirect, Target: req.redirect}
}

// Checker is the part of the session store a mount needs.
type Checker interface {
	CheckAuth(ctx context.Context)
	State() session.State
}

// Navigator performs redirects on behalf of the guard.
type Navigator interface {
	Redirect(path string)
}

// Mount is one mounted instance of a guarded route. It triggers a single
// CheckAuth for its lifetime no matter how often it is rendered.
type Mount struct {
	req     Requirement
	checker Checker
	nav     Navigator

	checkOnce  sync.Once
	checkDone  chan struct{}
	mu         sync.Mutex
	redirected string
}

// NewMount prepares a mount; nothing is requested until Start or Render.
func NewMount(req Requirement, checker Checker, nav Navigator) *Mount {
	return &Mount{req: req, checker: checker, nav: nav, checkDone: make(chan struct{})}
}

// Start launches the session check in the background. Repeated calls are
// no-ops.
func (m *Mount) Start(ctx context.Context) {
	m.checkOnce.Do(func() {
		go func() {
			defer close(m.checkDone)
			m.checker.CheckAuth(ctx)
		}()
	})
}

// Wait blocks until the mount's check has finished or ctx is done.
func (m *Mount) Wait(ctx context.Context) error {
	select {
	case <-m.checkDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Render decides from the current state. A redirect is issued through the
// navigator once per distinct target.
func (m *Mount) Render(ctx context.Context) Decision {
	m.Start(ctx)
	d := Decide(m.req, m.checker.State())
	if d.Verdict != Redirect {
		return d
	}
	m.mu.Lock()
	issue := m.redirected != d.Target
	m.redirected = d.Target
	m.mu.Unlock()
	if issue && m.nav != nil {
		m.nav.Redirect(d.Target)
	}
	return d
}
