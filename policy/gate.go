package policy

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"
)

// DomainPolicyLevel is spec.md §4.7's domain-policy table key.
type DomainPolicyLevel int

const (
	PolicyStandard DomainPolicyLevel = iota
	PolicyHigh
	PolicyMaximum
	PolicyCustom
)

// CertRisk is spec.md §4.7's four-level certificate-validation risk ladder.
type CertRisk int

const (
	CertRiskNone CertRisk = iota
	CertRiskLow
	CertRiskMedium
	CertRiskHigh
	CertRiskCritical
)

// InterstitialHold is how long a high-risk interstitial refuses to offer a
// proceed option, per spec.md §4.7 ("no-proceed for 10 s").
const InterstitialHold = 10 * time.Second

// Decision is the request-side gate's verdict for one request.
type Decision struct {
	Allow   bool
	Headers http.Header // CSP, Referrer-Policy, etc. to attach to the outgoing request/response
}

// ResponseAction is the response-side gate's verdict after certificate
// checking and content scanning.
type ResponseAction int

const (
	ActionPassThrough ResponseAction = iota
	ActionBannerInjected
	ActionInterstitialProceedable
	ActionInterstitialBlocking
	ActionSecureErrorPage
	ActionSanitizedWithWarning
	ActionBlocked
)

// DomainPolicy is one domain's configured policy-table row.
type DomainPolicy struct {
	Level             DomainPolicyLevel
	CSP               string
	BlockThreshold     float64
	ConfidenceThreshold float64
}

// PolicyGate is the interface netcore's façade calls, per SPEC_FULL.md's
// decision to ship a reference scanner/rule implementation behind an
// interface rather than any production tracker-list/fingerprint-policy
// logic (spec.md §1's Non-goals).
type PolicyGate interface {
	Admit(req *http.Request, referrer string, requestType string) Decision
	Inspect(cert CertRisk, contentType string, body []byte, domain string) (ResponseAction, []byte)
}

// Gate is the reference PolicyGate implementation.
type Gate struct {
	whitelist map[string]bool
	policies  map[string]DomainPolicy
	defaultPolicy DomainPolicy

	registry *Registry
	profiles *RiskProfiles

	maliciousTargets map[string]float64 // host -> severity, a stand-in for a real tracker/malware list
}

// DefaultConfig mirrors conn.Opts's pattern: documented thresholds a caller
// can override per domain via DomainPolicy entries.
func DefaultConfig() DomainPolicy {
	return DomainPolicy{
		Level:               PolicyStandard,
		CSP:                 "default-src 'self'",
		BlockThreshold:      0.8,
		ConfidenceThreshold: 0.6,
	}
}

// NewGate returns a Gate with an empty whitelist/policy table/malicious
// list; callers populate them before serving traffic.
func NewGate(registry *Registry, profiles *RiskProfiles) *Gate {
	return &Gate{
		whitelist:        make(map[string]bool),
		policies:         make(map[string]DomainPolicy),
		defaultPolicy:    DefaultConfig(),
		registry:         registry,
		profiles:         profiles,
		maliciousTargets: make(map[string]float64),
	}
}

// Whitelist marks domain as always-allow, short-circuiting the policy
// table (spec.md §4.7 step 1).
func (g *Gate) Whitelist(domain string) { g.whitelist[domain] = true }

// SetPolicy installs domain's policy-table row.
func (g *Gate) SetPolicy(domain string, p DomainPolicy) { g.policies[domain] = p }

// MarkMalicious records domain as matching the maliciousness rules at the
// given severity (spec.md §4.7 step 3); this stands in for the production
// tracker/malware-list lookup SPEC_FULL.md's Non-goals exclude.
func (g *Gate) MarkMalicious(domain string, severity float64) { g.maliciousTargets[domain] = severity }

func (g *Gate) policyFor(domain string) DomainPolicy {
	if p, ok := g.policies[domain]; ok {
		return p
	}
	return g.defaultPolicy
}

// Admit implements spec.md §4.7's request-side gate.
func (g *Gate) Admit(req *http.Request, referrer string, requestType string) Decision {
	domain := req.URL.Hostname()

	if g.whitelist[domain] {
		return Decision{Allow: true}
	}

	if severity, malicious := g.maliciousTargets[domain]; malicious {
		g.profiles.Record(domain, severity, true, time.Now())
		return Decision{Allow: false}
	}

	p := g.policyFor(domain)
	h := http.Header{}
	h.Set("Content-Security-Policy", p.CSP)
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	if p.Level == PolicyMaximum {
		h.Set("X-Netcore-Fingerprint-Mask", "1")
	}

	return Decision{Allow: true, Headers: h}
}

// certAction maps a CertRisk onto spec.md §4.7's response-side ladder.
func certAction(risk CertRisk) ResponseAction {
	switch risk {
	case CertRiskCritical:
		return ActionSecureErrorPage
	case CertRiskHigh:
		return ActionInterstitialBlocking
	case CertRiskMedium:
		return ActionInterstitialProceedable
	case CertRiskLow:
		return ActionBannerInjected
	default:
		return ActionPassThrough
	}
}

// warningScript is the in-band script spec.md §4.7 calls for below the
// block threshold.
const warningScript = `<script>console.warn("netcore: this page was sanitized after a content scan");</script>`

// bannerHTML is injected for CertRiskLow pass-through responses.
const bannerHTML = `<div style="background:#fffbe6;border-bottom:1px solid #f0c36d;padding:8px">This connection's certificate could not be fully verified.</div>`

// Inspect implements spec.md §4.7's response-side gate: certificate risk
// ladder first, then content scanning against the domain's thresholds.
func (g *Gate) Inspect(cert CertRisk, contentType string, body []byte, domain string) (ResponseAction, []byte) {
	action := certAction(cert)
	switch action {
	case ActionSecureErrorPage, ActionInterstitialBlocking, ActionInterstitialProceedable:
		return action, nil
	}

	p := g.policyFor(domain)
	results := make([]ScanResult, 0, len(g.registry.scanners))
	ctx := context.Background()
	for _, s := range g.registry.scanners {
		results = append(results, s.Analyze(ctx, contentType, body))
	}
	severity, confidence := Aggregate(results)
	severity = clamp01(severity)
	confidence = clamp01(confidence)

	blocked := severity >= p.BlockThreshold && confidence >= p.ConfidenceThreshold
	g.profiles.Record(domain, severity, blocked, time.Now())

	if blocked {
		return ActionBlocked, nil
	}
	if severity > 0 && isHTML(contentType) {
		return ActionSanitizedWithWarning, injectWarning(body)
	}
	if action == ActionBannerInjected && isHTML(contentType) {
		return ActionBannerInjected, injectBanner(body)
	}
	return ActionPassThrough, body
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/html")
}

func injectWarning(body []byte) []byte {
	return injectBeforeBodyClose(body, []byte(warningScript))
}

func injectBanner(body []byte) []byte {
	return injectAfterBodyOpen(body, []byte(bannerHTML))
}

func injectBeforeBodyClose(body, snippet []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, body...), snippet...)
	}
	out := make([]byte, 0, len(body)+len(snippet))
	out = append(out, body[:idx]...)
	out = append(out, snippet...)
	out = append(out, body[idx:]...)
	return out
}

func injectAfterBodyOpen(body, snippet []byte) []byte {
	idx := bytes.Index(bytes.ToLower(body), []byte("<body"))
	if idx < 0 {
		return append(append([]byte{}, snippet...), body...)
	}
	end := bytes.IndexByte(body[idx:], '>')
	if end < 0 {
		return append(append([]byte{}, body...), snippet...)
	}
	insertAt := idx + end + 1
	out := make([]byte, 0, len(body)+len(snippet))
	out = append(out, body[:insertAt]...)
	out = append(out, snippet...)
	out = append(out, body[insertAt:]...)
	return out
}
