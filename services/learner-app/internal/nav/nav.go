// Package nav names the app routes and the navigator the core drives.
package nav

import "net/url"

type Route string

const (
	RouteEntry        Route = "/"
	RouteMainLive     Route = "/(tabs)/main/Live"
	RouteLogin        Route = "/auth/signupWithPassword"
	RouteSignup       Route = "/auth/userFirstSignupPage"
	RouteVerifyEmail  Route = "/auth/verify-email"
	RouteResetRequest Route = "/auth/forgot-password"
	RouteResetDone    Route = "/auth/password-changed"
)

// Target is a route plus its query parameters.
type Target struct {
	Route  Route
	Params url.Values
}

func To(route Route) Target {
	return Target{Route: route}
}

func (t Target) String() string {
	if len(t.Params) == 0 {
		return string(t.Route)
	}
	return string(t.Route) + "?" + t.Params.Encode()
}

func (t Target) Equal(other Target) bool {
	return t.String() == other.String()
}

type Navigator interface {
	Replace(target Target)
}
