// Package router derives fallback chains for skills and raw prompts.
package router

import (
	"sort"
	"strings"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/registry"
)

// Domain is a task domain with its skill-id prefixes, prompt triggers and
// fallback chain.
type Domain struct {
	Name     string
	Prefixes []string
	Triggers []string
	Chain    registry.FallbackChain
}

// RouteInfo describes a configured domain for display.
type RouteInfo struct {
	Domain   string
	Prefixes []string
	Triggers []string
	Chain    string
	Default  bool
}

// Router maps skills and prompts to fallback chains. It is immutable after
// construction and safe for concurrent use.
type Router struct {
	domains       []Domain
	byName        map[string]int
	defaultDomain string
	rules         []compiledRule
}

type compiledRule struct {
	domain  string
	trigger string
}

// New creates a router from an ordered domain table.
func New(domains []Domain, defaultDomain string) *Router {
	r := &Router{
		domains:       domains,
		byName:        make(map[string]int, len(domains)),
		defaultDomain: defaultDomain,
	}
	for i, d := range domains {
		r.byName[d.Name] = i
	}
	r.compile()
	return r
}

// FromConfig builds the domain table from configuration.
func FromConfig(cfg *config.Config) *Router {
	domains := make([]Domain, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		fallbacks := make([]adapter.BackendType, len(d.Fallbacks))
		for i, fb := range d.Fallbacks {
			fallbacks[i] = adapter.BackendType(fb)
		}
		domains = append(domains, Domain{
			Name:     d.Name,
			Prefixes: d.Prefixes,
			Triggers: d.Triggers,
			Chain:    registry.NewFallbackChain(adapter.BackendType(d.Primary), fallbacks...),
		})
	}
	return New(domains, cfg.DefaultDomain)
}

// compile builds the trigger list sorted by length, longest first; ties keep
// domain table order.
func (r *Router) compile() {
	r.rules = nil
	for _, d := range r.domains {
		for _, trigger := range d.Triggers {
			r.rules = append(r.rules, compiledRule{domain: d.Name, trigger: strings.ToLower(trigger)})
		}
	}
	sort.SliceStable(r.rules, func(i, j int) bool {
		return len(r.rules[i].trigger) > len(r.rules[j].trigger)
	})
}

// Domain returns the named domain.
func (r *Router) Domain(name string) (Domain, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Domain{}, false
	}
	return r.domains[i], true
}

// DomainForSkill returns the domain whose longest prefix matches skillID.
func (r *Router) DomainForSkill(skillID string) (Domain, bool) {
	best, bestLen := -1, 0
	for i, d := range r.domains {
		for _, prefix := range d.Prefixes {
			if strings.HasPrefix(skillID, prefix) && len(prefix) > bestLen {
				best, bestLen = i, len(prefix)
			}
		}
	}
	if best < 0 {
		return Domain{}, false
	}
	return r.domains[best], true
}

// ForSkill computes the effective chain for a skill: override, else the
// domain chain for the skill-id prefix, else the preferred backend followed
// by every other registered backend in registration order.
func (r *Router) ForSkill(skillID string, preferred adapter.BackendType, registered []adapter.BackendType, override registry.FallbackChain) registry.FallbackChain {
	if !override.IsZero() {
		return override
	}
	if d, ok := r.DomainForSkill(skillID); ok {
		if chain := restrict(d.Chain, registered); !chain.IsZero() {
			return chain
		}
	}
	return preferredChain(preferred, registered)
}

// ForDomain computes the chain for a raw prompt routed to domain. An empty
// domain is classified from the prompt; an unknown one uses the default.
func (r *Router) ForDomain(domain, prompt string, registered []adapter.BackendType, override registry.FallbackChain) (registry.FallbackChain, string) {
	if domain == "" {
		domain = r.Classify(prompt)
	}
	if !override.IsZero() {
		return override, domain
	}
	d, ok := r.Domain(domain)
	if !ok {
		d, ok = r.Domain(r.defaultDomain)
	}
	if ok {
		if chain := restrict(d.Chain, registered); !chain.IsZero() {
			return chain, d.Name
		}
	}
	if len(registered) == 0 {
		return registry.FallbackChain{}, domain
	}
	return preferredChain(registered[0], registered), domain
}

// Classify returns the domain whose trigger phrase appears in prompt, or the
// default domain when none match.
func (r *Router) Classify(prompt string) string {
	promptLower := strings.ToLower(prompt)
	for _, rule := range r.rules {
		if containsTrigger(promptLower, rule.trigger) {
			return rule.domain
		}
	}
	return r.defaultDomain
}

// Routes returns the domain table in configuration order.
func (r *Router) Routes() []RouteInfo {
	routes := make([]RouteInfo, 0, len(r.domains))
	for _, d := range r.domains {
		routes = append(routes, RouteInfo{
			Domain:   d.Name,
			Prefixes: d.Prefixes,
			Triggers: d.Triggers,
			Chain:    d.Chain.String(),
			Default:  d.Name == r.defaultDomain,
		})
	}
	return routes
}

func preferredChain(preferred adapter.BackendType, registered []adapter.BackendType) registry.FallbackChain {
	return registry.NewFallbackChain(preferred, registered...)
}

// restrict drops chain members that are not registered. When the primary is
// dropped the first registered fallback is promoted. A nil registered list
// leaves the chain untouched.
func restrict(chain registry.FallbackChain, registered []adapter.BackendType) registry.FallbackChain {
	if registered == nil {
		return chain
	}
	known := make(map[adapter.BackendType]bool, len(registered))
	for _, b := range registered {
		known[b] = true
	}
	var members []adapter.BackendType
	for _, m := range chain.Members() {
		if known[m] {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return registry.FallbackChain{}
	}
	return registry.NewFallbackChain(members[0], members[1:]...)
}

// containsTrigger checks if the prompt contains the trigger phrase.
// It looks for the trigger as a word or phrase boundary match, trying every
// occurrence.
func containsTrigger(prompt, trigger string) bool {
	if trigger == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		idx += offset
		endIdx := idx + len(trigger)
		if (idx == 0 || !isWordChar(prompt[idx-1])) && (endIdx >= len(prompt) || !isWordChar(prompt[endIdx])) {
			return true
		}
		offset = idx + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
