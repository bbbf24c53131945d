// Package classify sorts sender addresses into internal and external mail.
// Internal mail is excluded from ticket creation.
package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Kind is the classification of a sender domain.
type Kind string

const (
	Internal Kind = "internal"
	External Kind = "external"
	Unknown  Kind = "unknown"
)

var emailRe = regexp.MustCompile(`([a-zA-Z0-9._%+-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

// Resolver decides the classification of a domain neither list covers.
// Interactive frontends implement this to ask the operator.
type Resolver interface {
	Resolve(domain, email string) (Kind, error)
}

// Stats summarizes the classifier's configured and learned domains.
type Stats struct {
	InternalDomains int `json:"total_internal_domains"`
	ExternalDomains int `json:"total_external_domains"`
	CachedDomains   int `json:"cached_unknown_domains"`
}

// Classifier classifies sender domains against configured lists with a
// learned cache for domains neither list covers. Safe for concurrent use.
type Classifier struct {
	logger   *slog.Logger
	resolver Resolver
	file     string

	mu       sync.Mutex
	internal []string
	external []string
	cache    map[string]Kind
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithResolver installs a hook for resolving unknown domains. Without one,
// unknown domains deterministically default to External.
func WithResolver(r Resolver) Option {
	return func(c *Classifier) { c.resolver = r }
}

// WithCacheFile persists learned classifications to the given JSON file.
// Existing entries are loaded at construction.
func WithCacheFile(path string) Option {
	return func(c *Classifier) { c.file = path }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// New creates a Classifier over the given domain lists. Patterns match by
// suffix, so "company.com" also covers subdomains.
func New(internal, external []string, opts ...Option) *Classifier {
	c := &Classifier{
		logger:   slog.Default(),
		internal: normalizeDomains(internal),
		external: normalizeDomains(external),
		cache:    make(map[string]Kind),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.file != "" {
		c.loadCache()
	}
	return c
}

// normalizeDomains lowercases patterns and ensures the @ prefix so list
// entries and extracted domains compare uniformly.
func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, "@") {
			d = "@" + d
		}
		out = append(out, d)
	}
	return out
}

// ExtractDomain pulls the lowercased "@domain" out of an address-bearing
// string, or "" when none is present.
func ExtractDomain(email string) string {
	m := emailRe.FindStringSubmatch(email)
	if m == nil {
		return ""
	}
	return "@" + strings.ToLower(m[2])
}

// Classify classifies an email address and returns its domain. Unresolvable
// addresses yield (Unknown, ""). Domains outside both lists consult the
// cache, then the resolver; without a resolver they default to External.
func (c *Classifier) Classify(email string) (Kind, string) {
	domain := ExtractDomain(email)
	if domain == "" {
		return Unknown, ""
	}

	c.mu.Lock()
	kind, cached := c.lookupLocked(domain)
	c.mu.Unlock()
	if kind != Unknown {
		return kind, domain
	}

	if !cached && c.resolver != nil {
		resolved, err := c.resolver.Resolve(domain, email)
		if err == nil && (resolved == Internal || resolved == External) {
			c.learn(domain, resolved)
			return resolved, domain
		}
		c.logger.Warn("domain resolution failed, defaulting to external", "domain", domain, "err", err)
	}

	// Deterministic policy: treat unknown senders as external so their
	// mail stays eligible for tickets.
	c.learn(domain, External)
	return External, domain
}

// lookupLocked checks the configured lists (internal before external),
// then the learned cache. Caller holds c.mu.
func (c *Classifier) lookupLocked(domain string) (Kind, bool) {
	for _, d := range c.internal {
		if domain == d || strings.HasSuffix(domain, d) {
			return Internal, false
		}
	}
	for _, d := range c.external {
		if domain == d || strings.HasSuffix(domain, d) {
			return External, false
		}
	}
	if kind, ok := c.cache[domain]; ok {
		return kind, true
	}
	return Unknown, false
}

// ShouldCreateTicket reports whether mail from the address is eligible for
// a ticket: everything not classified internal.
func (c *Classifier) ShouldCreateTicket(email string) (bool, Kind, string) {
	kind, domain := c.Classify(email)
	return kind != Internal, kind, domain
}

// AddInternal appends a domain to the internal list if not present.
func (c *Classifier) AddInternal(domain string) {
	c.addDomain(&c.internal, domain)
}

// AddExternal appends a domain to the external list if not present.
func (c *Classifier) AddExternal(domain string) {
	c.addDomain(&c.external, domain)
}

func (c *Classifier) addDomain(list *[]string, domain string) {
	norm := normalizeDomains([]string{domain})
	if len(norm) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range *list {
		if d == norm[0] {
			return
		}
	}
	*list = append(*list, norm[0])
}

// Stats returns counts of configured and learned domains.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		InternalDomains: len(c.internal),
		ExternalDomains: len(c.external),
		CachedDomains:   len(c.cache),
	}
}

// learn records a classification in the cache and persists it.
func (c *Classifier) learn(domain string, kind Kind) {
	c.mu.Lock()
	c.cache[domain] = kind
	var snapshot map[string]Kind
	if c.file != "" {
		snapshot = make(map[string]Kind, len(c.cache))
		for k, v := range c.cache {
			snapshot[k] = v
		}
	}
	c.mu.Unlock()

	if snapshot == nil {
		return
	}
	if err := writeCacheFile(c.file, snapshot); err != nil {
		c.logger.Warn("persist domain cache failed", "err", err)
	}
}

func writeCacheFile(path string, cache map[string]Kind) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("classify: marshal cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("classify: write cache: %w", err)
	}
	return nil
}

// loadCache reads previously learned classifications. A missing file is
// fine; a corrupt one is ignored with a warning.
func (c *Classifier) loadCache() {
	data, err := os.ReadFile(c.file)
	if err != nil {
		return
	}
	var cache map[string]Kind
	if err := json.Unmarshal(data, &cache); err != nil {
		c.logger.Warn("domain cache unreadable, starting fresh", "path", c.file, "err", err)
		return
	}
	for k, v := range cache {
		if v == Internal || v == External {
			c.cache[k] = v
		}
	}
}
