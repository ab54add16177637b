// Package acs resolves which accessibility services the host has authorized.
package acs

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Secure settings holding the host's multi-valued accessibility targets.
const (
	SettingShortcutTargets = "accessibility_shortcut_target_service"
	SettingButtonTargets   = "accessibility_button_targets"
)

// listSeparator separates entries in multi-valued accessibility settings.
const listSeparator = ":"

// ServiceIdentity identifies an accessibility service by package and class.
type ServiceIdentity struct {
	Package string
	Class   string
}

// ParseIdentity parses the host's flattened "package/class" form.
// A class starting with "." is relative to the package.
func ParseIdentity(s string) (ServiceIdentity, bool) {
	sep := strings.Index(s, "/")
	if sep <= 0 || sep == len(s)-1 {
		return ServiceIdentity{}, false
	}
	pkg, cls := s[:sep], s[sep+1:]
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return ServiceIdentity{Package: pkg, Class: cls}, true
}

// String returns the flattened "package/class" form.
func (id ServiceIdentity) String() string {
	return id.Package + "/" + id.Class
}

// TargetSet is an immutable set of service identities.
type TargetSet struct {
	ids map[ServiceIdentity]struct{}
}

// Contains reports whether id is in the set.
func (s TargetSet) Contains(id ServiceIdentity) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of identities.
func (s TargetSet) Len() int {
	return len(s.ids)
}

// Identities returns the identities sorted by flattened form.
func (s TargetSet) Identities() []ServiceIdentity {
	out := make([]ServiceIdentity, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ParseTargets returns the union of identities found in the given setting values.
// An empty value stands for an unset setting. Malformed entries are skipped.
func ParseTargets(settings ...string) TargetSet {
	set := TargetSet{ids: make(map[ServiceIdentity]struct{})}
	for _, value := range settings {
		for _, fragment := range strings.Split(value, listSeparator) {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}
			if id, ok := ParseIdentity(fragment); ok {
				set.ids[id] = struct{}{}
			}
		}
	}
	return set
}

// SettingsReader reads a secure setting from the host.
// ok is false when the setting is unset.
type SettingsReader interface {
	SecureSetting(ctx context.Context, key string) (value string, ok bool, err error)
}

// Resolver reads the accessibility target settings from a device.
type Resolver struct {
	settings SettingsReader
}

// NewResolver creates a Resolver over the given settings reader.
func NewResolver(settings SettingsReader) *Resolver {
	return &Resolver{settings: settings}
}

// Resolve reads both target settings and parses them.
func (r *Resolver) Resolve(ctx context.Context) (TargetSet, error) {
	values := make([]string, 0, 2)
	for _, key := range []string{SettingShortcutTargets, SettingButtonTargets} {
		value, ok, err := r.settings.SecureSetting(ctx, key)
		if err != nil {
			return TargetSet{}, fmt.Errorf("read setting %s: %w", key, err)
		}
		if ok {
			values = append(values, value)
		}
	}
	return ParseTargets(values...), nil
}

// IsEnabled reports whether own is among the host's current targets.
func (r *Resolver) IsEnabled(ctx context.Context, own ServiceIdentity) (bool, error) {
	set, err := r.Resolve(ctx)
	if err != nil {
		return false, err
	}
	return set.Contains(own), nil
}
