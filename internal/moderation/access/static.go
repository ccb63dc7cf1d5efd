// Package access implements the AccessGate boundary. Roles and sessions live
// in the external identity provider; these gates only answer yes or no.
package access

import (
	"context"
	"fmt"
	"strings"

	pstrings "moderation/pkg/platform/strings"
)

// Wildcard grants any actor or any action.
const Wildcard = "*"

// StaticGate answers from a fixed grant table loaded from configuration.
type StaticGate struct {
	grants map[string]map[string]struct{}
}

// ParseGrants reads "actor:action|action;actor:action". Whitespace is ignored
// and actions are case-insensitive.
func ParseGrants(spec string) (*StaticGate, error) {
	g := &StaticGate{grants: make(map[string]map[string]struct{})}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		actor, actions, ok := strings.Cut(entry, ":")
		actor = strings.TrimSpace(actor)
		if !ok || actor == "" {
			return nil, fmt.Errorf("access grant %q: want actor:action|action", entry)
		}
		list := pstrings.DedupeAndTrimLower(strings.Split(actions, "|"))
		if len(list) == 0 {
			return nil, fmt.Errorf("access grant %q: no actions", entry)
		}
		g.Grant(actor, list...)
	}
	return g, nil
}

// NewStaticGate returns an empty gate that denies everything.
func NewStaticGate() *StaticGate {
	return &StaticGate{grants: make(map[string]map[string]struct{})}
}

// Grant adds actions for actor.
func (g *StaticGate) Grant(actor string, actions ...string) {
	set, ok := g.grants[actor]
	if !ok {
		set = make(map[string]struct{}, len(actions))
		g.grants[actor] = set
	}
	for _, a := range actions {
		set[strings.ToLower(a)] = struct{}{}
	}
}

func (g *StaticGate) IsAuthorized(_ context.Context, actorID, action string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	action = strings.ToLower(action)
	for _, actor := range []string{actorID, Wildcard} {
		set, ok := g.grants[actor]
		if !ok {
			continue
		}
		if _, ok := set[action]; ok {
			return true, nil
		}
		if _, ok := set[Wildcard]; ok {
			return true, nil
		}
	}
	return false, nil
}
