/*
verifier.go - Background dual-store divergence scanner

PURPOSE:
  The ledger and the blob store are separate transactional domains, so a
  crash between a blob write and its reference transfer can leave them
  disagreeing. This scanner periodically checks both directions: every
  stored blob must have a positive ledger reference, and every tagged
  reference must still have its blob. Divergences are counted and logged,
  never repaired; remediation is an operator call.

DESIGN:
  - Runs a background goroutine with configurable scan interval
  - RunNow() performs one synchronous scan (tests, admin endpoints)
  - The last report is kept for operational inspection
*/
package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
)

// Report summarizes one verification pass.
type Report struct {
	ScannedAt  time.Time `json:"scanned_at"`
	Records    int       `json:"records"`
	Divergent  []string  `json:"divergent,omitempty"`
	FailedScan bool      `json:"failed_scan,omitempty"`
}

// Verifier periodically cross-checks blob records against their ledger
// references.
type Verifier struct {
	engine   *ledger.Engine
	blobs    *blobstore.Store
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex // lifecycle state below
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup

	// last has its own lock: the scan goroutine publishes reports while
	// Stop holds mu across wg.Wait.
	lastMu sync.Mutex
	last   Report
}

func NewVerifier(engine *ledger.Engine, blobs *blobstore.Store, interval time.Duration, log zerolog.Logger) *Verifier {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Verifier{
		engine:   engine,
		blobs:    blobs,
		interval: interval,
		log:      log.With().Str("component", "verifier").Logger(),
		stop:     make(chan struct{}),
	}
}

// Start begins periodic scanning.
func (v *Verifier) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ticker != nil {
		return
	}
	v.ticker = time.NewTicker(v.interval)
	v.wg.Add(1)
	go v.run()
	v.log.Info().Dur("interval", v.interval).Msg("verifier started")
}

// Stop halts periodic scanning. Safe to call once.
func (v *Verifier) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ticker == nil {
		return
	}
	v.ticker.Stop()
	close(v.stop)
	v.wg.Wait()
	v.ticker = nil
	v.log.Info().Msg("verifier stopped")
}

func (v *Verifier) run() {
	defer v.wg.Done()

	v.RunNow(context.Background())
	for {
		select {
		case <-v.ticker.C:
			v.RunNow(context.Background())
		case <-v.stop:
			return
		}
	}
}

// RunNow performs one synchronous scan and returns the report.
func (v *Verifier) RunNow(ctx context.Context) Report {
	report := Report{ScannedAt: time.Now().UTC()}

	records, err := v.blobs.All(ctx)
	if err != nil {
		v.log.Error().Err(err).Msg("blob scan failed")
		report.FailedScan = true
		v.setLast(report)
		return report
	}
	report.Records = len(records)

	for _, rec := range records {
		balance, err := v.engine.Balance(ctx, rec.Account)
		if err != nil {
			v.log.Error().Err(err).Str("account", rec.Account).Msg("balance read failed")
			report.FailedScan = true
			continue
		}
		if balance <= 0 {
			report.Divergent = append(report.Divergent, rec.Account)
			v.log.Warn().Str("account", rec.Account).Msg("blob present without ledger reference")
		}
	}

	// Reverse direction: accounts whose newest credit is a tagged blob
	// reference must still have their content.
	accounts, err := v.engine.Ledger().Accounts(ctx, ledger.AccountFilter{})
	if err != nil {
		v.log.Error().Err(err).Msg("account scan failed")
		report.FailedScan = true
	}
	for _, a := range accounts {
		if a.Balance() <= 0 {
			continue
		}
		routed, err := blobRouted(ctx, v.engine, a.Name)
		if err != nil {
			v.log.Error().Err(err).Str("account", a.Name).Msg("route check failed")
			report.FailedScan = true
			continue
		}
		if !routed {
			continue
		}
		if _, err := v.blobs.Get(ctx, a.Name); err == ledger.ErrNotFound {
			report.Divergent = append(report.Divergent, a.Name)
			v.log.Warn().Str("account", a.Name).Msg("ledger reference without blob")
		} else if err != nil {
			v.log.Error().Err(err).Str("account", a.Name).Msg("blob read failed")
			report.FailedScan = true
		}
	}

	if len(report.Divergent) > 0 {
		v.log.Warn().Int("divergent", len(report.Divergent)).Int("records", report.Records).Msg("scan found divergences")
	} else {
		v.log.Debug().Int("records", report.Records).Msg("scan clean")
	}
	v.setLast(report)
	return report
}

// LastReport returns the most recent scan result.
func (v *Verifier) LastReport() Report {
	v.lastMu.Lock()
	defer v.lastMu.Unlock()
	return v.last
}

func (v *Verifier) setLast(r Report) {
	v.lastMu.Lock()
	v.last = r
	v.lastMu.Unlock()
}
