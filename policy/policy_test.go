package policy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	kind       ScannerKind
	severity   float64
	confidence float64
}

func (f fakeScanner) Kind() ScannerKind { return f.kind }
func (f fakeScanner) Analyze(context.Context, string, []byte) ScanResult {
	return ScanResult{Kind: f.kind, Severity: f.severity, Confidence: f.confidence}
}

func TestScannerKindString(t *testing.T) {
	assert.Equal(t, "malware", ScannerMalware.String())
	assert.Equal(t, "page_structure_anomaly", ScannerPageStructureAnomaly.String())
}

func TestAggregateTakesMaxSeverityMeanConfidence(t *testing.T) {
	results := []ScanResult{
		{Severity: 0.2, Confidence: 0.5},
		{Severity: 0.9, Confidence: 0.9},
		{Severity: 0.1, Confidence: 0},
	}
	sev, conf := Aggregate(results)
	assert.Equal(t, 0.9, sev)
	assert.InDelta(t, 0.7, conf, 0.001)
}

func TestAggregateClampsOutOfRangeInputs(t *testing.T) {
	results := []ScanResult{{Severity: 1.5, Confidence: -0.3}}
	sev, _ := Aggregate(results)
	assert.Equal(t, 1.0, sev)
}

func TestAggregateEmpty(t *testing.T) {
	sev, conf := Aggregate(nil)
	assert.Equal(t, 0.0, sev)
	assert.Equal(t, 0.0, conf)
}

func TestRiskProfilesAccumulate(t *testing.T) {
	p := NewRiskProfiles()
	p.Record("evil.example", 0.5, false, time.Now())
	dr := p.Record("evil.example", 0.9, true, time.Now())
	assert.Equal(t, 2, dr.Scans)
	assert.Equal(t, 1, dr.BlockCount)
	assert.Equal(t, 0.9, dr.MaxSeverity)
}

func TestRiskProfilesGetMissing(t *testing.T) {
	p := NewRiskProfiles()
	_, ok := p.Get("nowhere.example")
	assert.False(t, ok)
}

func TestGateWhitelistShortCircuits(t *testing.T) {
	g := NewGate(NewRegistry(), NewRiskProfiles())
	g.MarkMalicious("good.example", 1.0) // would block if not whitelisted
	g.Whitelist("good.example")

	req, _ := http.NewRequest("GET", "https://good.example/x", nil)
	d := g.Admit(req, "", "document")
	assert.True(t, d.Allow)
}

func TestGateBlocksMaliciousTarget(t *testing.T) {
	g := NewGate(NewRegistry(), NewRiskProfiles())
	g.MarkMalicious("evil.example", 0.9)

	req, _ := http.NewRequest("GET", "https://evil.example/x", nil)
	d := g.Admit(req, "", "document")
	assert.False(t, d.Allow)
}

func TestGateEmitsSecurityHeaders(t *testing.T) {
	g := NewGate(NewRegistry(), NewRiskProfiles())
	req, _ := http.NewRequest("GET", "https://normal.example/x", nil)
	d := g.Admit(req, "", "document")
	require.True(t, d.Allow)
	assert.NotEmpty(t, d.Headers.Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", d.Headers.Get("X-Content-Type-Options"))
}

func TestCertRiskLadder(t *testing.T) {
	assert.Equal(t, ActionSecureErrorPage, certAction(CertRiskCritical))
	assert.Equal(t, ActionInterstitialBlocking, certAction(CertRiskHigh))
	assert.Equal(t, ActionInterstitialProceedable, certAction(CertRiskMedium))
	assert.Equal(t, ActionBannerInjected, certAction(CertRiskLow))
	assert.Equal(t, ActionPassThrough, certAction(CertRiskNone))
}

func TestInspectBlocksAboveThreshold(t *testing.T) {
	reg := NewRegistry(fakeScanner{kind: ScannerMalware, severity: 0.95, confidence: 0.95})
	g := NewGate(reg, NewRiskProfiles())

	action, body := g.Inspect(CertRiskNone, "text/html", []byte("<html><body>hi</body></html>"), "bad.example")
	assert.Equal(t, ActionBlocked, action)
	assert.Nil(t, body)
}

func TestInspectSanitizesBelowBlockThreshold(t *testing.T) {
	reg := NewRegistry(fakeScanner{kind: ScannerObfuscation, severity: 0.3, confidence: 0.9})
	g := NewGate(reg, NewRiskProfiles())

	action, body := g.Inspect(CertRiskNone, "text/html", []byte("<html><body>hi</body></html>"), "sketchy.example")
	assert.Equal(t, ActionSanitizedWithWarning, action)
	assert.Contains(t, string(body), "console.warn")
}

func TestInspectPassesThroughClean(t *testing.T) {
	g := NewGate(NewRegistry(), NewRiskProfiles())
	action, body := g.Inspect(CertRiskNone, "text/html", []byte("<html><body>hi</body></html>"), "clean.example")
	assert.Equal(t, ActionPassThrough, action)
	assert.Equal(t, "<html><body>hi</body></html>", string(body))
}

func TestInspectInjectsBannerForLowCertRisk(t *testing.T) {
	g := NewGate(NewRegistry(), NewRiskProfiles())
	action, body := g.Inspect(CertRiskLow, "text/html", []byte("<body>hi</body>"), "meh.example")
	assert.Equal(t, ActionBannerInjected, action)
	assert.Contains(t, string(body), "certificate could not be fully verified")
}

func TestInspectCriticalCertShortCircuitsScanning(t *testing.T) {
	reg := NewRegistry(fakeScanner{kind: ScannerMalware, severity: 0, confidence: 0})
	g := NewGate(reg, NewRiskProfiles())
	action, body := g.Inspect(CertRiskCritical, "text/html", []byte("irrelevant"), "whatever.example")
	assert.Equal(t, ActionSecureErrorPage, action)
	assert.Nil(t, body)
}
