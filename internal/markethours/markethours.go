package markethours

import (
	"fmt"
	"time"
)

// Market describes one exchange's regular trading session in its local zone.
type Market struct {
	Name      string
	Zone      string
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// MarketStatus is the dashboard pill for one market at a point in time.
type MarketStatus struct {
	Market    string    `json:"market"`
	Zone      string    `json:"zone"`
	LocalTime string    `json:"localTime"`
	Open      bool      `json:"open"`
	NextOpen  time.Time `json:"nextOpen"`
	NextClose time.Time `json:"nextClose"`
}

// markets the dashboard tracks, in display order.
var markets = []Market{
	{Name: "NYSE", Zone: "America/New_York", OpenHour: 9, OpenMin: 30, CloseHour: 16},
	{Name: "LSE", Zone: "Europe/London", OpenHour: 8, CloseHour: 16, CloseMin: 30},
	{Name: "TSE", Zone: "Asia/Tokyo", OpenHour: 9, CloseHour: 15},
	{Name: "ASX", Zone: "Australia/Sydney", OpenHour: 10, CloseHour: 16},
}

// Clock evaluates market sessions. Zones load once at construction so a bad
// tzdata install fails at startup, not per request.
type Clock struct {
	markets   []Market
	locations []*time.Location
}

func NewClock() (*Clock, error) {
	c := &Clock{markets: markets, locations: make([]*time.Location, len(markets))}
	for i, m := range markets {
		loc, err := time.LoadLocation(m.Zone)
		if err != nil {
			return nil, fmt.Errorf("load zone %s: %w", m.Zone, err)
		}
		c.locations[i] = loc
	}
	return c, nil
}

// Status reports every market's session state at now.
func (c *Clock) Status(now time.Time) []MarketStatus {
	out := make([]MarketStatus, 0, len(c.markets))
	for i, m := range c.markets {
		local := now.In(c.locations[i])
		opens, closes := sessionBounds(m, local)
		isOpen := isTradingDay(local) && !local.Before(opens) && local.Before(closes)
		out = append(out, MarketStatus{
			Market:    m.Name,
			Zone:      m.Zone,
			LocalTime: local.Format("15:04"),
			Open:      isOpen,
			NextOpen:  nextOpen(m, local),
			NextClose: nextClose(m, local),
		})
	}
	return out
}

// sessionBounds returns the session's open and close on the given local day.
func sessionBounds(m Market, day time.Time) (opens, closes time.Time) {
	y, mo, d := day.Date()
	opens = time.Date(y, mo, d, m.OpenHour, m.OpenMin, 0, 0, day.Location())
	closes = time.Date(y, mo, d, m.CloseHour, m.CloseMin, 0, 0, day.Location())
	return opens, closes
}

func isTradingDay(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func nextOpen(m Market, local time.Time) time.Time {
	day := local
	for {
		opens, _ := sessionBounds(m, day)
		if isTradingDay(day) && local.Before(opens) {
			return opens
		}
		day = day.AddDate(0, 0, 1)
	}
}

func nextClose(m Market, local time.Time) time.Time {
	day := local
	for {
		_, closes := sessionBounds(m, day)
		if isTradingDay(day) && local.Before(closes) {
			return closes
		}
		day = day.AddDate(0, 0, 1)
	}
}
