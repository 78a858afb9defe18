// Package admission gates expensive pipeline operations behind a per-requester
// daily quota. Records live purely in memory; a new calendar day starts every
// requester over with a fresh, emailless record.
package admission

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"pawprints_backend/core"
	"pawprints_backend/logging"

	"go.uber.org/zap"
)

// Record is one requester's usage for a single day.
type Record struct {
	Count int
	Date  string
	Email string
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	Unlimited bool
	Reason    string
}

// Denial reasons reported to the caller verbatim.
const (
	ReasonEmailRequired = "email required"
	ReasonDailyLimit    = "daily limit reached"
)

// Gate tracks per-requester daily usage and decides whether expensive
// operations may proceed. Cheap operations (stylization rerolls) are never
// gated; only 3D reconstruction submissions consume quota.
//
// Enforcement can be switched off by policy: records are still maintained
// and counted, but Check always admits.
//
// Thread Safety: safe for concurrent use.
type Gate struct {
	dailyCap  int
	enforce   bool
	unlimited map[string]struct{}
	logger    *logging.Logger
	now       func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// NewGate creates an admission gate from configuration.
func NewGate(cfg *core.Config, logger *logging.Logger) *Gate {
	unlimited := make(map[string]struct{}, len(cfg.UnlimitedEmails))
	for _, email := range cfg.UnlimitedEmails {
		unlimited[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	return &Gate{
		dailyCap:  cfg.DailyGenerationCap,
		enforce:   cfg.AdmissionEnforce,
		unlimited: unlimited,
		logger:    logger.Named("admission"),
		now:       time.Now,
		records:   make(map[string]*Record),
	}
}

// RegisterEmail stores an email against the requester's record for today.
// Returns an InvalidInput error for empty or malformed addresses.
func (g *Gate) RegisterEmail(requesterID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return core.NewPipelineError(core.ErrCodeInvalidInput,
			fmt.Sprintf("invalid email address: %q", email))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.today(requesterID)
	rec.Email = email
	g.logger.Info("email registered",
		zap.String("requester", requesterID))
	return nil
}

// Check decides whether the requester may run an expensive operation today.
// It never consumes quota; pair it with Consume at the point of submission.
func (g *Gate) Check(requesterID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.today(requesterID)

	if rec.Email == "" {
		if !g.enforce {
			return Decision{Allowed: true, Remaining: g.remaining(rec)}
		}
		return Decision{Reason: ReasonEmailRequired}
	}

	if g.isUnlimited(rec.Email) {
		return Decision{Allowed: true, Remaining: g.dailyCap, Unlimited: true}
	}

	if rec.Count >= g.dailyCap {
		if !g.enforce {
			return Decision{Allowed: true, Remaining: 0}
		}
		g.logger.Warn("admission denied",
			zap.String("requester", requesterID),
			zap.Int("count", rec.Count),
			zap.Int("cap", g.dailyCap))
		return Decision{Reason: ReasonDailyLimit}
	}

	return Decision{Allowed: true, Remaining: g.remaining(rec)}
}

// Consume records one expensive operation against today's quota. Call it
// exactly once per reconstruction submission.
func (g *Gate) Consume(requesterID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.today(requesterID)
	rec.Count++
	g.logger.Info("generation consumed",
		zap.String("requester", requesterID),
		zap.Int("count", rec.Count),
		zap.Int("cap", g.dailyCap))
}

// Lookup returns a copy of the requester's current-day record.
func (g *Gate) Lookup(requesterID string) Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.today(requesterID)
}

// today returns the requester's record for the current date, replacing any
// stale record from an earlier day. A rollover clears the counter and the
// stored email. Callers must hold the lock.
func (g *Gate) today(requesterID string) *Record {
	date := g.now().Format("2006-01-02")
	rec, ok := g.records[requesterID]
	if !ok || rec.Date != date {
		rec = &Record{Date: date}
		g.records[requesterID] = rec
	}
	return rec
}

// remaining counts the admissions left after the one being granted now.
func (g *Gate) remaining(rec *Record) int {
	left := g.dailyCap - rec.Count - 1
	if left < 0 {
		return 0
	}
	return left
}

func (g *Gate) isUnlimited(email string) bool {
	_, ok := g.unlimited[strings.ToLower(email)]
	return ok
}
