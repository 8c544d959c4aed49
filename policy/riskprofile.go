package policy

import (
	"sync"
	"time"
)

// DomainRisk is one origin's running scan history, spec.md scenario 6's
// "domain-risk profile is updated" made concrete.
type DomainRisk struct {
	Domain string

	Scans        int
	BlockCount   int
	MaxSeverity  float64
	LastSeverity float64
	LastScanned  time.Time
}

// RiskProfiles tracks DomainRisk per origin, grounded on
// dgrr-http2/conn.go's reqQueued sync.Map: a flat concurrent map indexed by
// a string key with no eviction policy of its own, the same shape this
// module needs for "one profile per domain, read far more than written".
type RiskProfiles struct {
	profiles sync.Map // string domain -> *DomainRisk
}

// NewRiskProfiles returns an empty profile store.
func NewRiskProfiles() *RiskProfiles { return &RiskProfiles{} }

// Record folds a scan outcome for domain into its running profile,
// creating one if this is the first scan seen for that domain.
func (p *RiskProfiles) Record(domain string, severity float64, blocked bool, now time.Time) *DomainRisk {
	v, _ := p.profiles.LoadOrStore(domain, &DomainRisk{Domain: domain})
	dr := v.(*DomainRisk)

	dr.Scans++
	dr.LastSeverity = severity
	dr.LastScanned = now
	if severity > dr.MaxSeverity {
		dr.MaxSeverity = severity
	}
	if blocked {
		dr.BlockCount++
	}
	return dr
}

// Get returns domain's profile, if any scan has been recorded for it yet.
func (p *RiskProfiles) Get(domain string) (*DomainRisk, bool) {
	v, ok := p.profiles.Load(domain)
	if !ok {
		return nil, false
	}
	return v.(*DomainRisk), true
}
