package rbac

import "strings"

type Screen string

const (
	ScreenRoot         Screen = "/"
	ScreenAuth         Screen = "/auth"
	ScreenDashboard    Screen = "/dashboard"
	ScreenUpload       Screen = "/upload"
	ScreenApprovals    Screen = "/approvals"
	ScreenInternalDocs Screen = "/internal-docs"
	ScreenAdmin        Screen = "/admin"
)

type Outcome string

const (
	OutcomeWait         Outcome = "wait"
	OutcomeSignIn       Outcome = "sign_in"
	OutcomeRedirect     Outcome = "redirect"
	OutcomeAccessDenied Outcome = "access_denied"
	OutcomeRender       Outcome = "render"
	OutcomeNotFound     Outcome = "not_found"
)

// AuthState is what a guard knows when it runs. Principal is nil when nobody
// is signed in; Loading is true while roles are still being fetched.
type AuthState struct {
	Loading   bool
	Principal *Principal
}

type Decision struct {
	Outcome  Outcome `json:"outcome"`
	Screen   Screen  `json:"screen,omitempty"`
	Location string  `json:"location,omitempty"`
}

type mismatch int

const (
	redirectToLanding mismatch = iota
	denyAccess
)

type guard struct {
	allow      func(Principal) bool
	onMismatch mismatch
}

var guards = map[Screen]guard{
	ScreenDashboard: {
		allow:      func(p Principal) bool { return !p.HasRole(RoleClient) },
		onMismatch: redirectToLanding,
	},
	ScreenUpload: {
		allow:      func(p Principal) bool { return p.HasRole(RoleClient) },
		onMismatch: redirectToLanding,
	},
	ScreenApprovals: {
		allow:      func(p Principal) bool { return p.HasRole(RoleExecutive) },
		onMismatch: redirectToLanding,
	},
	ScreenInternalDocs: {
		allow:      func(p Principal) bool { return p.HasRole(RoleInternalTeam) },
		onMismatch: denyAccess,
	},
	ScreenAdmin: {
		allow:      func(p Principal) bool { return p.HasRole(RoleAdmin) },
		onMismatch: denyAccess,
	},
}

// Landing is the screen a principal is sent to after sign-in.
func Landing(p Principal) Screen {
	switch {
	case p.HasRole(RoleExecutive):
		return ScreenApprovals
	case p.HasRole(RoleClient):
		return ScreenUpload
	case p.HasRole(RoleInternalTeam):
		return ScreenInternalDocs
	default:
		return ScreenDashboard
	}
}

// ResolveScreen maps a client path onto a known screen.
func ResolveScreen(path string) (Screen, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	screen := Screen(path)
	switch screen {
	case ScreenRoot, ScreenAuth:
		return screen, true
	}
	_, ok := guards[screen]
	return screen, ok
}

// Evaluate runs the guard for path against state.
func Evaluate(state AuthState, path string) Decision {
	screen, ok := ResolveScreen(path)
	if !ok {
		return Decision{Outcome: OutcomeNotFound, Screen: screen}
	}
	if screen == ScreenRoot {
		return redirect(screen, ScreenAuth)
	}
	if state.Loading {
		return Decision{Outcome: OutcomeWait, Screen: screen}
	}
	if screen == ScreenAuth {
		if state.Principal == nil {
			return Decision{Outcome: OutcomeRender, Screen: screen}
		}
		return redirect(screen, Landing(*state.Principal))
	}
	if state.Principal == nil {
		return redirect(screen, ScreenAuth).withOutcome(OutcomeSignIn)
	}

	g := guards[screen]
	principal := *state.Principal
	if g.allow(principal) {
		return Decision{Outcome: OutcomeRender, Screen: screen}
	}
	if g.onMismatch == redirectToLanding {
		if target := Landing(principal); target != screen {
			return redirect(screen, target)
		}
	}
	return Decision{Outcome: OutcomeAccessDenied, Screen: screen}
}

func redirect(from, to Screen) Decision {
	return Decision{Outcome: OutcomeRedirect, Screen: from, Location: string(to)}
}

func (d Decision) withOutcome(outcome Outcome) Decision {
	d.Outcome = outcome
	return d
}
