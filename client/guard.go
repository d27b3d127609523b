package client

// Decision is the outcome of a route check.
type Decision struct {
	Allow bool

	// RedirectTo is set when Allow is false.
	RedirectTo string

	// ReturnTo carries the attempted destination so the login flow can
	// come back to it. Only set for authentication redirects.
	ReturnTo string
}

// sessionReader is the slice of the controller the guard needs.
type sessionReader interface {
	CurrentPrincipal() (Principal, bool)
}

// Guard answers whether the current principal may enter a route.
//
// Missing roles send the user to a neutral page rather than an error
// page, so unauthorized users learn nothing about the route beyond the
// redirect itself.
type Guard struct {
	sessions sessionReader

	// LoginPath receives unauthenticated users. Defaults to "/login".
	LoginPath string

	// HomePath receives authenticated users lacking a required role.
	// Defaults to "/".
	HomePath string
}

func NewGuard(sessions sessionReader) *Guard {
	return &Guard{
		sessions:  sessions,
		LoginPath: "/login",
		HomePath:  "/",
	}
}

// CanEnter checks the route at target. An empty routeRoles list only
// requires being signed in.
func (g *Guard) CanEnter(target string, routeRoles []string) Decision {
	principal, ok := g.sessions.CurrentPrincipal()
	if !ok {
		return Decision{RedirectTo: g.LoginPath, ReturnTo: target}
	}

	if !principal.HasAnyRole(routeRoles...) {
		return Decision{RedirectTo: g.HomePath}
	}

	return Decision{Allow: true}
}
