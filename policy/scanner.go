// Package policy is spec.md §4.7's gate: request-side admission and header
// injection, response-side certificate risk handling and content scanning.
// There is no teacher equivalent (dgrr-http2 is a transport library with no
// policy layer), so the "tagged variant of scanner kinds" spec.md §9 calls
// for is built the way dgrr-http2/frame.go dispatches FrameType: a small
// closed iota enum plus one interface method per variant, not a generic
// plugin system.
package policy

import "context"

// ScannerKind tags one content-scanning module, the variant set spec.md
// §4.7 names.
type ScannerKind int

const (
	ScannerMalware ScannerKind = iota
	ScannerPhishing
	ScannerRedirectAnalysis
	ScannerDataExfil
	ScannerMining
	ScannerObfuscation
	ScannerSocialEngineering
	ScannerNLPText
	ScannerPageStructureAnomaly
)

func (k ScannerKind) String() string {
	switch k {
	case ScannerMalware:
		return "malware"
	case ScannerPhishing:
		return "phishing"
	case ScannerRedirectAnalysis:
		return "redirect_analysis"
	case ScannerDataExfil:
		return "data_exfil"
	case ScannerMining:
		return "mining"
	case ScannerObfuscation:
		return "obfuscation"
	case ScannerSocialEngineering:
		return "social_engineering"
	case ScannerNLPText:
		return "nlp_text"
	case ScannerPageStructureAnomaly:
		return "page_structure_anomaly"
	default:
		return "unknown"
	}
}

// ScanResult is one scanner's verdict; Aggregate clamps its Severity and
// Confidence to [0,1] per spec.md §9's normalization decision (DESIGN.md).
type ScanResult struct {
	Kind       ScannerKind
	Severity   float64
	Confidence float64
}

// Scanner is one content-scanning module. Analyze receives the response
// body and content type and is expected to return quickly — spec.md §5's
// single-threaded-per-connection model means a slow scanner blocks the
// response pipeline, so a Scanner that needs real work should do it
// asynchronously and return its best estimate so far.
type Scanner interface {
	Kind() ScannerKind
	Analyze(ctx context.Context, contentType string, body []byte) ScanResult
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Registry holds the active set of Scanners a Gate runs content through.
type Registry struct {
	scanners []Scanner
}

// NewRegistry returns a Registry running exactly the given scanners, in
// order; Gate.Inspect runs all of them and aggregates.
func NewRegistry(scanners ...Scanner) *Registry {
	return &Registry{scanners: scanners}
}

// Aggregate combines a set of ScanResults into spec.md §4.7's single
// (severity, confidence) pair. severity is the max across scanners (one
// bad verdict is enough to flag); confidence is the mean of the scanners
// that actually fired (an idle/inapplicable scanner contributing 0
// confidence would otherwise drag down an aggregate that should reflect
// only scanners with an opinion).
func Aggregate(results []ScanResult) (severity, confidence float64) {
	if len(results) == 0 {
		return 0, 0
	}
	var confSum float64
	var fired int
	for _, r := range results {
		s := clamp01(r.Severity)
		if s > severity {
			severity = s
		}
		if r.Confidence > 0 {
			confSum += clamp01(r.Confidence)
			fired++
		}
	}
	if fired == 0 {
		return severity, 0
	}
	return severity, confSum / float64(fired)
}
