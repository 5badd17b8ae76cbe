// Package deeplink reads verification data out of the URL the app was opened with.
package deeplink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"weversity/services/learner-app/internal/backend"
)

type Link struct {
	Path     string
	Token    string
	Type     string
	Email    string
	Verified bool
}

// HasToken reports whether the link carries something to verify server-side.
func (l Link) HasToken() bool {
	return l.Token != ""
}

// Parse merges query and fragment parameters; the query wins on conflicts.
// token, token_hash and access_token are accepted, in that order.
func Parse(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, fmt.Errorf("empty link")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Link{}, fmt.Errorf("parse link: %w", err)
	}

	params := url.Values{}
	if parsed.Fragment != "" {
		if fragment, err := url.ParseQuery(parsed.Fragment); err == nil {
			for key, values := range fragment {
				params[key] = values
			}
		}
	}
	for key, values := range parsed.Query() {
		params[key] = values
	}

	link := Link{
		Path:     linkPath(parsed),
		Type:     params.Get("type"),
		Email:    params.Get("email"),
		Verified: strings.EqualFold(params.Get("verified"), "true"),
	}
	for _, key := range []string{"token", "token_hash", "access_token"} {
		if value := strings.TrimSpace(params.Get(key)); value != "" {
			link.Token = value
			break
		}
	}
	return link, nil
}

// Initial reads and parses the link the app was opened with. ok is false when
// there is none.
func Initial(ctx context.Context, reader backend.DeepLinks) (Link, bool, error) {
	raw, ok, err := reader.InitialURL(ctx)
	if err != nil || !ok {
		return Link{}, false, err
	}
	link, err := Parse(raw)
	if err != nil {
		return Link{}, false, err
	}
	return link, true, nil
}

// linkPath treats the host of a custom-scheme URL as the first path segment.
func linkPath(u *url.URL) string {
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" && u.Host != "" {
		return "/" + u.Host + u.Path
	}
	return u.Path
}
