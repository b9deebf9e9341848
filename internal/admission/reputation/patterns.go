package reputation

import (
	"net/http"
	"strings"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// badAgentSubstrings are user-agent fragments of well-known scanners and
// attack tools. Matching is case-insensitive.
var badAgentSubstrings = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"zgrab",
	"dirbuster",
	"gobuster",
	"wpscan",
	"hydra",
	"havij",
}

// sensitivePrefixes are path prefixes legitimate API clients never request.
var sensitivePrefixes = []string{
	"/admin",
	"/wp-admin",
	"/wp-login",
	"/.env",
	"/.git",
	"/.aws",
	"/phpmyadmin",
	"/config.php",
	"/etc/passwd",
}

// PatternConfig tunes the analyzer penalties.
type PatternConfig struct {
	// PenaltyMin is the lighter penalty (e.g. -2) for weak signals such as a
	// missing header. PenaltyMax is the heavier one (e.g. -5) for strong
	// signals such as a scanner user agent or a sensitive path probe.
	PenaltyMin int
	PenaltyMax int
}

// Analyzer inspects request metadata for suspicious signatures. It consults
// only headers and the path, never request bodies, and is side-effect free.
type Analyzer struct {
	cfg PatternConfig
}

// NewAnalyzer creates a pattern analyzer.
func NewAnalyzer(cfg PatternConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Inspect returns the suspicious-pattern violations matched by the request.
// Multiple signals stack.
func (a *Analyzer) Inspect(r *http.Request) []domain.Violation {
	var out []domain.Violation

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		out = append(out, a.violation(a.cfg.PenaltyMin, "missing User-Agent header"))
	} else if frag := matchBadAgent(ua); frag != "" {
		out = append(out, a.violation(a.cfg.PenaltyMax, "known-bad user agent: "+frag))
	}

	if r.Header.Get("Accept") == "" {
		out = append(out, a.violation(a.cfg.PenaltyMin, "missing Accept header"))
	}

	if p := matchSensitivePath(r.URL.Path); p != "" {
		out = append(out, a.violation(a.cfg.PenaltyMax, "sensitive path probe: "+p))
	}

	return out
}

func (a *Analyzer) violation(weight int, detail string) domain.Violation {
	return domain.Violation{
		Kind:   domain.ViolationSuspiciousPattern,
		Weight: weight,
		Detail: detail,
	}
}

func matchBadAgent(ua string) string {
	ua = strings.ToLower(ua)
	for _, frag := range badAgentSubstrings {
		if strings.Contains(ua, frag) {
			return frag
		}
	}
	return ""
}

func matchSensitivePath(path string) string {
	path = strings.ToLower(path)
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return prefix
		}
	}
	return ""
}
