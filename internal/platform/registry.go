package platform

import (
	"net/url"
	"strings"
)

// Platform is an allow-listed media source.
type Platform struct {
	Name  string
	Hosts []string
	// ExtractorArgs are engine hints passed with every attempt for this platform.
	ExtractorArgs []string
}

// Matches reports whether host equals one of the platform hosts or is a
// subdomain of one.
func (p Platform) Matches(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Registry holds the allow-listed platforms.
type Registry struct {
	platforms []Platform
}

// NewRegistry creates a new platform registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a platform to the registry.
func (r *Registry) Register(p Platform) {
	r.platforms = append(r.platforms, p)
}

// Lookup returns the first platform whose hosts match the URL.
func (r *Registry) Lookup(rawURL string) (Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Platform{}, false
	}
	for _, p := range r.platforms {
		if p.Matches(u.Hostname()) {
			return p, true
		}
	}
	return Platform{}, false
}

// Match implements domain.PlatformMatcher.
func (r *Registry) Match(rawURL string) (string, bool) {
	p, ok := r.Lookup(rawURL)
	return p.Name, ok
}

// Get returns a registered platform by name.
func (r *Registry) Get(name string) (Platform, bool) {
	for _, p := range r.platforms {
		if p.Name == name {
			return p, true
		}
	}
	return Platform{}, false
}

// ExtractorArgs returns the engine hints for a platform, if any.
func (r *Registry) ExtractorArgs(name string) []string {
	p, ok := r.Get(name)
	if !ok {
		return nil
	}
	return append([]string(nil), p.ExtractorArgs...)
}

// Platforms returns all registered platforms.
func (r *Registry) Platforms() []Platform {
	return r.platforms
}
