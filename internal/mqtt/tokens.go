package mqtt

import (
	"sync"
	"time"
)

// TokenTotals is one day's token usage.
type TokenTotals struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Rounds int64 `json:"rounds"`
}

// DailyTokens accumulates token counts and starts over at local
// midnight. It is safe for concurrent use.
type DailyTokens struct {
	mu     sync.Mutex
	totals TokenTotals
	day    int // year*1000 + day-of-year of the current totals
	loc    *time.Location
	now    func() time.Time
}

// NewDailyTokens returns an empty accumulator that rolls over at
// midnight in loc, or [time.Local] when loc is nil.
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

func (d *DailyTokens) today() int {
	t := d.now().In(d.loc)
	return t.Year()*1000 + t.YearDay()
}

// Add records the tokens of one model round.
func (d *DailyTokens) Add(input, output int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	d.totals.Input += int64(input)
	d.totals.Output += int64(output)
	d.totals.Rounds++
}

// Snapshot returns today's totals.
func (d *DailyTokens) Snapshot() TokenTotals {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	return d.totals
}

// rollover must be called with d.mu held.
func (d *DailyTokens) rollover() {
	if today := d.today(); today != d.day {
		d.totals = TokenTotals{}
		d.day = today
	}
}
