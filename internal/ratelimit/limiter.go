package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Period string

const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
)

const (
	HeaderLimit     = "X-Ratelimit-Limit"
	HeaderRemaining = "X-Ratelimit-Remaining"
	HeaderReset     = "X-Ratelimit-Reset"
)

// State is one budget window. Reset is the epoch second after which the
// server refills Remaining.
type State struct {
	Limit     int
	Remaining int
	Reset     int64
	Period    Period
}

// Wait reports how long a caller should hold off before spending from s.
// It is zero while budget remains or once the reset instant has passed.
func (s State) Wait(now time.Time) time.Duration {
	if s.Remaining > 0 {
		return 0
	}
	return s.UntilReset(now)
}

// UntilReset is the time left before the window refills, never negative.
func (s State) UntilReset(now time.Time) time.Duration {
	wait := time.Duration(s.Reset*1000-now.UnixMilli()) * time.Millisecond
	if wait < 0 {
		return 0
	}
	return wait
}

// Update carries the rate headers of a single response.
type Update struct {
	Limit        int
	Remaining    int
	Reset        int64
	hasRemaining bool
	hasReset     bool
}

func defaultState(limit int, period Period) *State {
	return &State{Limit: limit, Remaining: limit, Period: period}
}

type key struct {
	method string
	path   string
}

// Limiter owns the global budget and the fixed table of per-endpoint budgets.
// It never predicts consumption; it only mirrors what the server last reported.
type Limiter struct {
	mu      sync.Mutex
	global  *State
	tracked map[key]*State
}

func New() *Limiter {
	l := &Limiter{
		global:  defaultState(120, PeriodMinute),
		tracked: map[key]*State{},
	}
	for path, st := range map[string]*State{
		"/game/room-terrain":        defaultState(360, PeriodHour),
		"/user/code":                defaultState(60, PeriodHour),
		"/user/memory":              defaultState(1440, PeriodDay),
		"/user/memory-segment":      defaultState(360, PeriodHour),
		"/game/market/orders-index": defaultState(60, PeriodHour),
		"/game/market/orders":       defaultState(60, PeriodHour),
		"/game/market/my-orders":    defaultState(60, PeriodHour),
		"/game/market/stats":        defaultState(60, PeriodHour),
		"/game/user/money-history":  defaultState(60, PeriodHour),
	} {
		l.tracked[key{method: http.MethodGet, path: path}] = st
	}
	for path, st := range map[string]*State{
		"/user/console":           defaultState(360, PeriodHour),
		"/game/map-stats":         defaultState(60, PeriodHour),
		"/user/code":              defaultState(240, PeriodDay),
		"/user/set-active-branch": defaultState(240, PeriodDay),
		"/user/memory":            defaultState(240, PeriodDay),
		"/user/memory-segment":    defaultState(60, PeriodHour),
	} {
		l.tracked[key{method: http.MethodPost, path: path}] = st
	}
	return l
}

// Tracked reports whether method+path has its own budget.
func (l *Limiter) Tracked(method string, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tracked[newKey(method, path)]
	return ok
}

// LimitFor returns a snapshot of the budget that governs method+path. Paths
// outside the table share the global budget.
func (l *Limiter) LimitFor(method string, path string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.lookupLocked(method, path)
}

// Record overwrites the governing budget with the latest server-reported values.
func (l *Limiter) Record(method string, path string, update Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.lookupLocked(method, path)
	st.Limit = update.Limit
	if update.hasRemaining {
		st.Remaining = update.Remaining
	}
	if update.hasReset {
		st.Reset = update.Reset
	}
}

// RecordHeaders is Record fed straight from a response. It returns false and
// leaves every budget untouched when the response carries no rate headers.
func (l *Limiter) RecordHeaders(method string, path string, header http.Header) bool {
	update, ok := ParseHeaders(header)
	if !ok {
		return false
	}
	l.Record(method, path, update)
	return true
}

func (l *Limiter) lookupLocked(method string, path string) *State {
	if st, ok := l.tracked[newKey(method, path)]; ok {
		return st
	}
	return l.global
}

func newKey(method string, path string) key {
	return key{method: strings.ToUpper(strings.TrimSpace(method)), path: path}
}

// ParseHeaders extracts the x-ratelimit-* headers. A response without a limit
// header carries no budget information.
func ParseHeaders(header http.Header) (Update, bool) {
	rawLimit := strings.TrimSpace(header.Get(HeaderLimit))
	if rawLimit == "" {
		return Update{}, false
	}
	limit, err := strconv.Atoi(rawLimit)
	if err != nil {
		return Update{}, false
	}
	update := Update{Limit: limit}
	if raw := strings.TrimSpace(header.Get(HeaderRemaining)); raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			update.Remaining = n
			update.hasRemaining = true
		}
	}
	if raw := strings.TrimSpace(header.Get(HeaderReset)); raw != "" {
		// Some deployments report fractional seconds.
		if f, convErr := strconv.ParseFloat(raw, 64); convErr == nil {
			update.Reset = int64(f)
			update.hasReset = true
		}
	}
	return update, true
}

// NewUpdate builds an Update with every field present.
func NewUpdate(limit int, remaining int, reset int64) Update {
	return Update{Limit: limit, Remaining: remaining, Reset: reset, hasRemaining: true, hasReset: true}
}
