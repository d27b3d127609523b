package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedSession struct {
	principal Principal
	ok        bool
}

func (f fixedSession) CurrentPrincipal() (Principal, bool) {
	return f.principal, f.ok
}

func Test_Guard_CanEnter(t *testing.T) {
	t.Parallel()

	anonymous := fixedSession{}
	regular := fixedSession{ok: true, principal: Principal{Email: "user@example.com", Roles: []string{"User"}}}
	admin := fixedSession{ok: true, principal: Principal{Email: "admin@example.com", Roles: []string{"Admin", "User"}}}

	tests := []struct {
		name     string
		session  fixedSession
		target   string
		roles    []string
		expected Decision
	}{
		{
			name:     "anonymous redirected to login with return url",
			session:  anonymous,
			target:   "/admin/users",
			roles:    []string{"Admin"},
			expected: Decision{RedirectTo: "/login", ReturnTo: "/admin/users"},
		},
		{
			name:     "anonymous redirected even without role requirement",
			session:  anonymous,
			target:   "/dashboard",
			expected: Decision{RedirectTo: "/login", ReturnTo: "/dashboard"},
		},
		{
			name:     "authenticated user without required role goes to neutral page",
			session:  regular,
			target:   "/admin/users",
			roles:    []string{"Admin"},
			expected: Decision{RedirectTo: "/"},
		},
		{
			name:     "admin with matching role allowed",
			session:  admin,
			target:   "/admin/users",
			roles:    []string{"Admin"},
			expected: Decision{Allow: true},
		},
		{
			name:     "any of several roles is enough",
			session:  regular,
			target:   "/reports",
			roles:    []string{"Admin", "User"},
			expected: Decision{Allow: true},
		},
		{
			name:     "no role requirement admits any signed in user",
			session:  regular,
			target:   "/dashboard",
			expected: Decision{Allow: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.session)

			got := g.CanEnter(tt.target, tt.roles)

			assert.Equal(t, tt.expected, got)
		})
	}
}

func Test_Guard_CustomPaths(t *testing.T) {
	t.Parallel()

	g := NewGuard(fixedSession{})
	g.LoginPath = "/auth/sign-in"

	got := g.CanEnter("/secret", nil)

	assert.Equal(t, Decision{RedirectTo: "/auth/sign-in", ReturnTo: "/secret"}, got)
}
