// Package platform holds the allow list of media sources and the engine
// hints specific to each.
package platform

import (
	"fmt"
	"strings"
)

// Names of the built-in platforms.
const (
	YouTube   = "youtube"
	Instagram = "instagram"
	TikTok    = "tiktok"
	Twitch    = "twitch"
	Twitter   = "twitter"
)

// Builtin returns the known platforms.
func Builtin() []Platform {
	return []Platform{
		{
			Name:          YouTube,
			Hosts:         []string{"youtube.com", "youtu.be", "youtube-nocookie.com"},
			ExtractorArgs: []string{"--extractor-args", "youtube:player_client=web,web_creator,tv_embedded"},
		},
		{
			Name:  Instagram,
			Hosts: []string{"instagram.com"},
		},
		{
			Name:  TikTok,
			Hosts: []string{"tiktok.com"},
		},
		{
			Name:  Twitch,
			Hosts: []string{"twitch.tv"},
		},
		{
			Name:  Twitter,
			Hosts: []string{"twitter.com", "x.com"},
		},
	}
}

// NewAllowList registers the built-in platforms named in allowed. An empty
// list allows every built-in platform.
func NewAllowList(allowed []string) (*Registry, error) {
	want := make(map[string]bool)
	for _, name := range allowed {
		if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
			want[name] = true
		}
	}

	r := NewRegistry()
	for _, p := range Builtin() {
		if len(want) == 0 || want[p.Name] {
			r.Register(p)
			delete(want, p.Name)
		}
	}
	for name := range want {
		return nil, fmt.Errorf("unknown platform %q", name)
	}
	return r, nil
}
