// Package config implements the TOML profile/relay-set configuration
// format of spec.md §6: a [default] table merged into named [profiles.*]
// tables, plus named [relaySets.*] tables a profile's sourceRelays key
// points at. Decoding itself is an external collaborator concern (the
// mechanics of reading a TOML file); the types and validation here are in
// scope.
package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/BurntSushi/toml"
)

// ErrConfig is the sentinel every validation/lookup failure wraps.
var ErrConfig = errors.New("config: invalid configuration")

// RelaySet is a named group of relay URLs a profile can source events from.
type RelaySet struct {
	Relays []string `toml:"relays"`
}

// Profile is one named configuration entry, or the [default] table merged
// into every named profile (profile keys win over defaults).
type Profile struct {
	PubKey           string `toml:"pubkey"`
	SecKey           string `toml:"seckey"`
	Destination      string `toml:"destination"`
	FetchMine        *bool  `toml:"fetchMine"`
	FetchFollows     *bool  `toml:"fetchFollows"`
	FetchMyRefs      *bool  `toml:"fetchMyRefs"`
	FetchFollowsRefs *bool  `toml:"fetchFollowsRefs"`
	SourceRelaySet   string `toml:"sourceRelays"`
}

// File is the parsed top-level document.
type File struct {
	Default   Profile             `toml:"default"`
	Profiles  map[string]Profile  `toml:"profiles"`
	RelaySets map[string]RelaySet `toml:"relaySets"`
}

// ResolvedProfile is a Profile after merging [default] and resolving its
// sourceRelays reference, with every boolean flag defaulted to true.
type ResolvedProfile struct {
	Name             string
	PubKey           string
	SecKey           string
	Destination      string
	FetchMine        bool
	FetchFollows     bool
	FetchMyRefs      bool
	FetchFollowsRefs bool
	SourceRelays     []string
}

// Load decodes a TOML document at path.
func Load(path string) (*File, error) {
	f := &File{}
	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrConfig, path, err)
	}
	return f, nil
}

func mergeBool(profileVal *bool, defaultVal *bool) bool {
	if profileVal != nil {
		return *profileVal
	}
	if defaultVal != nil {
		return *defaultVal
	}
	return true
}

func mergeStr(profileVal, defaultVal string) string {
	if profileVal != "" {
		return profileVal
	}
	return defaultVal
}

// Resolve merges [default] into the named profile and resolves its
// sourceRelays relay set, validating every relay URL.
func (f *File) Resolve(profileName string) (ResolvedProfile, error) {
	p, ok := f.Profiles[profileName]
	if !ok {
		return ResolvedProfile{}, fmt.Errorf("%w: no profile named %q", ErrConfig, profileName)
	}
	d := f.Default

	rp := ResolvedProfile{
		Name:             profileName,
		PubKey:           mergeStr(p.PubKey, d.PubKey),
		SecKey:           mergeStr(p.SecKey, d.SecKey),
		Destination:      mergeStr(p.Destination, d.Destination),
		FetchMine:        mergeBool(p.FetchMine, d.FetchMine),
		FetchFollows:     mergeBool(p.FetchFollows, d.FetchFollows),
		FetchMyRefs:      mergeBool(p.FetchMyRefs, d.FetchMyRefs),
		FetchFollowsRefs: mergeBool(p.FetchFollowsRefs, d.FetchFollowsRefs),
	}
	if rp.PubKey == "" {
		return ResolvedProfile{}, fmt.Errorf("%w: profile %q has no pubkey", ErrConfig, profileName)
	}

	setName := mergeStr(p.SourceRelaySet, d.SourceRelaySet)
	if setName != "" {
		set, ok := f.RelaySets[setName]
		if !ok {
			return ResolvedProfile{}, fmt.Errorf("%w: profile %q references unknown relay set %q", ErrConfig, profileName, setName)
		}
		for _, u := range set.Relays {
			if err := validateRelayURL(u); fails(err) {
				return ResolvedProfile{}, fmt.Errorf("%w: relay set %q: %v", ErrConfig, setName, err)
			}
		}
		rp.SourceRelays = set.Relays
	}

	if rp.Destination != "" {
		if err := validateRelayURL(rp.Destination); fails(err) {
			return ResolvedProfile{}, fmt.Errorf("%w: profile %q destination: %v", ErrConfig, profileName, err)
		}
	}

	return rp, nil
}

func validateRelayURL(raw string) error {
	u, err := url.Parse(raw)
	if fails(err) {
		return fmt.Errorf("malformed url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url %q must use ws or wss scheme, got %q", raw, u.Scheme)
	}
	return nil
}

func fails(err error) bool { return err != nil }
