// Package proxy rotates outbound source fetches across a pool of proxies.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Strategy selects how an endpoint is picked for each request.
type Strategy string

const (
	// StrategyRoundRobin cycles through endpoints in order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyRandom picks uniformly at random.
	StrategyRandom Strategy = "random"
	// StrategySticky pins each source origin to one endpoint so every part
	// of a transfer leaves through the same address.
	StrategySticky Strategy = "sticky"
)

// ParseStrategy validates a strategy name. Empty means StrategySticky.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategySticky:
		return StrategySticky, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyRandom:
		return StrategyRandom, nil
	default:
		return "", fmt.Errorf("unknown proxy strategy %q (valid: round_robin, random, sticky)", s)
	}
}

// Pool is a set of proxy URLs plus the selection strategy.
type Pool struct {
	Endpoints []string
	Strategy  Strategy
	// StickyTTL expires sticky assignments. Zero keeps them forever.
	StickyTTL time.Duration
}

// Validate checks every endpoint URL and the strategy.
func (p Pool) Validate() error {
	var errs []error
	if len(p.Endpoints) == 0 {
		errs = append(errs, errors.New("proxy pool has no endpoints"))
	}
	for i, raw := range p.Endpoints {
		if _, err := parseEndpoint(raw); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %d: %w", i, err))
		}
	}
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		errs = append(errs, err)
	}
	if p.StickyTTL < 0 {
		errs = append(errs, fmt.Errorf("sticky ttl must be >= 0, got %s", p.StickyTTL))
	}
	return errors.Join(errs...)
}

// Warnings returns soft problems that do not stop the pool from working.
func (p Pool) Warnings() []string {
	var warnings []string
	strategy, _ := ParseStrategy(string(p.Strategy))
	if p.StickyTTL > 0 && strategy != StrategySticky {
		warnings = append(warnings, fmt.Sprintf("sticky ttl is ignored by the %s strategy", strategy))
	}
	if len(p.Endpoints) == 1 && strategy != StrategySticky {
		warnings = append(warnings, "proxy pool has a single endpoint; rotation has no effect")
	}
	seen := make(map[string]bool, len(p.Endpoints))
	for _, raw := range p.Endpoints {
		if seen[raw] {
			warnings = append(warnings, fmt.Sprintf("duplicate proxy endpoint %s", Redact(raw)))
		}
		seen[raw] = true
	}
	return warnings
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("proxy scheme must be http, https, socks5 or socks5h, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("proxy url has no host")
	}
	return u, nil
}

// Redact hides proxy credentials for logs.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
