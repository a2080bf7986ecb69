// Package caps implements BalanceChain's quota accountant: calendar-
// windowed daily/monthly/yearly counters plus a lifetime total, with an
// in-memory cache invalidated on every reset or increment.
package caps

import (
	"fmt"
	"sync"
	"time"

	"balancechain/internal/store"
)

// Protocol constants (spec.md §6, consensus-critical).
const (
	DailyCap       = 3600
	MonthlyCap     = 36_000
	YearlyCap      = 120_000
	InitialUnlocked = 1200
)

// Counters is the current state of one identity's quota window.
type Counters struct {
	Daily      int64
	Monthly    int64
	Yearly     int64
	Total      int64
	DailyReset   int64
	MonthlyReset int64
	YearlyReset  int64
}

// Limits holds the cap values an Accountant enforces. The zero value is
// not valid on its own — use DefaultLimits or NewWithLimits, which fills
// any zero field from the protocol constants.
type Limits struct {
	Daily   int64
	Monthly int64
	Yearly  int64
	Initial int64
}

// DefaultLimits returns the protocol's consensus-critical cap values.
func DefaultLimits() Limits {
	return Limits{Daily: DailyCap, Monthly: MonthlyCap, Yearly: YearlyCap, Initial: InitialUnlocked}
}

// Accountant tracks per-identity caps against a Store, caching the last
// read per hid until a reset or increment invalidates it.
type Accountant struct {
	db     *store.DB
	limits Limits

	mu    sync.Mutex
	cache map[string]Counters
}

// New builds an Accountant backed by db, enforcing the protocol's
// default caps.
func New(db *store.DB) *Accountant {
	return NewWithLimits(db, DefaultLimits())
}

// NewWithLimits builds an Accountant enforcing limits instead of the
// package defaults. Any zero field in limits falls back to its protocol
// constant — production configs should leave Limits unset entirely and
// call New; this exists for test harnesses (spec.md §6).
func NewWithLimits(db *store.DB, limits Limits) *Accountant {
	if limits.Daily <= 0 {
		limits.Daily = DailyCap
	}
	if limits.Monthly <= 0 {
		limits.Monthly = MonthlyCap
	}
	if limits.Yearly <= 0 {
		limits.Yearly = YearlyCap
	}
	if limits.Initial <= 0 {
		limits.Initial = InitialUnlocked
	}
	return &Accountant{db: db, limits: limits, cache: make(map[string]Counters)}
}

// Current reads hid's stored counters, rolling forward any period whose
// reset boundary has passed, persisting the rolled-forward state, and
// updating the cache.
func (a *Accountant) Current(hid string) (Counters, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentLocked(hid)
}

func (a *Accountant) currentLocked(hid string) (Counters, error) {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()

	counters, err := a.loadLocked(hid)
	if err != nil {
		return Counters{}, err
	}

	dirty := false
	if counters.DailyReset == 0 || nowMs >= counters.DailyReset {
		counters.Daily = 0
		counters.DailyReset = nextDayBoundary(now).UnixMilli()
		dirty = true
	}
	if counters.MonthlyReset == 0 || nowMs >= counters.MonthlyReset {
		counters.Monthly = 0
		counters.MonthlyReset = nextMonthBoundary(now).UnixMilli()
		dirty = true
	}
	if counters.YearlyReset == 0 || nowMs >= counters.YearlyReset {
		counters.Yearly = 0
		counters.YearlyReset = nextYearBoundary(now).UnixMilli()
		dirty = true
	}

	if dirty {
		if err := a.persistLocked(hid, counters); err != nil {
			return Counters{}, err
		}
	}

	a.cache[hid] = counters
	return counters, nil
}

func (a *Accountant) loadLocked(hid string) (Counters, error) {
	if c, ok := a.cache[hid]; ok {
		return c, nil
	}

	var c Counters
	for _, period := range store.CapsPeriods {
		row, ok, err := a.db.GetCaps(period, hid)
		if err != nil {
			return Counters{}, fmt.Errorf("caps: load %s: %w", period, err)
		}
		if !ok {
			continue
		}
		switch period {
		case "daily":
			c.Daily, c.DailyReset = row.Counter, row.ResetAtMs
		case "monthly":
			c.Monthly, c.MonthlyReset = row.Counter, row.ResetAtMs
		case "yearly":
			c.Yearly, c.YearlyReset = row.Counter, row.ResetAtMs
		case "total":
			c.Total = row.Counter
		}
	}
	return c, nil
}

func (a *Accountant) persistLocked(hid string, c Counters) error {
	return persistCounters(a.db, hid, c)
}

// capsWriter is satisfied by both *store.DB and *store.Tx, letting
// persistCounters write outside or inside a caller's transaction.
type capsWriter interface {
	PutCaps(row store.CapsRow) error
}

func persistCounters(w capsWriter, hid string, c Counters) error {
	rows := []store.CapsRow{
		{Period: "daily", HID: hid, Counter: c.Daily, ResetAtMs: c.DailyReset},
		{Period: "monthly", HID: hid, Counter: c.Monthly, ResetAtMs: c.MonthlyReset},
		{Period: "yearly", HID: hid, Counter: c.Yearly, ResetAtMs: c.YearlyReset},
		{Period: "total", HID: hid, Counter: c.Total},
	}
	for _, row := range rows {
		if err := w.PutCaps(row); err != nil {
			return fmt.Errorf("caps: persist %s: %w", row.Period, err)
		}
	}
	return nil
}

// ErrCapExceeded is returned by Increment when applying n would push a
// counter past its cap; reaching the cap exactly is allowed.
type ErrCapExceeded struct {
	Period string
}

func (e *ErrCapExceeded) Error() string { return fmt.Sprintf("%s_cap_exceeded", e.Period) }

// Increment adds n to hid's counters, failing without any side effect
// if doing so would exceed the daily, monthly, or yearly cap.
func (a *Accountant) Increment(hid string, n int64) (Counters, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.currentLocked(hid)
	if err != nil {
		return Counters{}, err
	}

	if c.Daily+n > a.limits.Daily {
		return Counters{}, &ErrCapExceeded{Period: "daily"}
	}
	if c.Monthly+n > a.limits.Monthly {
		return Counters{}, &ErrCapExceeded{Period: "monthly"}
	}
	if c.Yearly+n > a.limits.Yearly {
		return Counters{}, &ErrCapExceeded{Period: "yearly"}
	}

	c.Daily += n
	c.Monthly += n
	c.Yearly += n
	c.Total += n

	if err := a.persistLocked(hid, c); err != nil {
		return Counters{}, err
	}
	delete(a.cache, hid)
	a.cache[hid] = c
	return c, nil
}

// IncrementTx behaves like Increment but persists its writes through
// tx instead of a.db, letting a caller (chain.Commit) fold the cap
// counters into the same atomic transaction as the write that earns
// them, rather than leaving a window where the segment is committed
// but the counters are not yet bumped.
func (a *Accountant) IncrementTx(tx *store.Tx, hid string, n int64) (Counters, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.currentLocked(hid)
	if err != nil {
		return Counters{}, err
	}

	if c.Daily+n > a.limits.Daily {
		return Counters{}, &ErrCapExceeded{Period: "daily"}
	}
	if c.Monthly+n > a.limits.Monthly {
		return Counters{}, &ErrCapExceeded{Period: "monthly"}
	}
	if c.Yearly+n > a.limits.Yearly {
		return Counters{}, &ErrCapExceeded{Period: "yearly"}
	}

	c.Daily += n
	c.Monthly += n
	c.Yearly += n
	c.Total += n

	if err := persistCounters(tx, hid, c); err != nil {
		return Counters{}, err
	}
	delete(a.cache, hid)
	a.cache[hid] = c
	return c, nil
}

// Limits returns the cap values this Accountant enforces.
func (a *Accountant) Limits() Limits { return a.limits }

// Available returns the remaining room under each cap for hid.
func (a *Accountant) Available(hid string) (Counters, error) {
	c, err := a.Current(hid)
	if err != nil {
		return Counters{}, err
	}
	return Counters{
		Daily:   a.limits.Daily - c.Daily,
		Monthly: a.limits.Monthly - c.Monthly,
		Yearly:  a.limits.Yearly - c.Yearly,
	}, nil
}

// UnlockedBalance returns the accountant's initial-unlocked limit plus
// hid's lifetime total.
func (a *Accountant) UnlockedBalance(hid string) (int64, error) {
	c, err := a.Current(hid)
	if err != nil {
		return 0, err
	}
	return a.limits.Initial + c.Total, nil
}

func nextDayBoundary(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func nextMonthBoundary(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func nextYearBoundary(t time.Time) time.Time {
	y, _, _ := t.Date()
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(1, 0, 0)
}
