// Package cftime converts CF time coordinates ("<unit> since <date>")
// between reference epochs within one calendar.
package cftime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Calendar is a CF calendar name after alias resolution.
type Calendar string

const (
	Standard           Calendar = "standard"
	ProlepticGregorian Calendar = "proleptic_gregorian"
	NoLeap             Calendar = "noleap"
	AllLeap            Calendar = "all_leap"
	Day360             Calendar = "360_day"
	Julian             Calendar = "julian"
)

// ParseCalendar resolves a calendar attribute. An empty name is the
// standard calendar.
func ParseCalendar(name string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard", "gregorian":
		return Standard, nil
	case "proleptic_gregorian":
		return ProlepticGregorian, nil
	case "noleap", "365_day":
		return NoLeap, nil
	case "all_leap", "366_day":
		return AllLeap, nil
	case "360_day":
		return Day360, nil
	case "julian":
		return Julian, nil
	}
	return "", errkind.UnsupportedOperation.New("cftime: unknown calendar %q", name)
}

var unitSeconds = map[string]float64{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1, "s": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

// Units is a parsed units attribute.
type Units struct {
	Calendar Calendar
	Unit     string
	Epoch    Date

	scale float64
}

// Date is a calendar date and time of day.
type Date struct {
	Year, Month, Day int
	Hour, Minute     int
	Second           float64
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02g", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// ParseUnits parses a CF time units attribute in the given calendar.
func ParseUnits(units, calendar string) (Units, error) {
	cal, err := ParseCalendar(calendar)
	if err != nil {
		return Units{}, err
	}
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return Units{}, errkind.UnsupportedOperation.New("cftime: %q is not a time unit", units)
	}
	unit = strings.ToLower(strings.TrimSpace(unit))
	scale, ok := unitSeconds[unit]
	if !ok {
		return Units{}, errkind.UnsupportedOperation.New("cftime: unsupported time unit %q", unit)
	}
	epoch, err := parseDate(ref)
	if err != nil {
		return Units{}, err
	}
	if epoch.Month < 1 || epoch.Month > 12 || epoch.Day < 1 || epoch.Day > daysInMonth(cal, epoch.Year, epoch.Month) {
		return Units{}, errkind.UnsupportedOperation.New("cftime: %s is not a date in the %s calendar", epoch, cal)
	}
	return Units{Calendar: cal, Unit: unit, Epoch: epoch, scale: scale}, nil
}

// String renders the units attribute.
func (u Units) String() string {
	return u.Unit + " since " + u.Epoch.String()
}

func parseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	s = strings.TrimSpace(strings.TrimSuffix(s, "UTC"))
	datePart, timePart, _ := strings.Cut(strings.Replace(s, "T", " ", 1), " ")
	bad := errkind.UnsupportedOperation.New("cftime: cannot parse reference date %q", s)

	ymd := strings.Split(datePart, "-")
	if len(ymd) != 3 {
		return Date{}, bad
	}
	var d Date
	var err error
	if d.Year, err = strconv.Atoi(ymd[0]); err != nil {
		return Date{}, bad
	}
	if d.Month, err = strconv.Atoi(ymd[1]); err != nil {
		return Date{}, bad
	}
	if d.Day, err = strconv.Atoi(ymd[2]); err != nil {
		return Date{}, bad
	}
	timePart = strings.TrimSpace(timePart)
	if timePart == "" {
		return d, nil
	}
	hms := strings.Split(timePart, ":")
	if len(hms) > 3 {
		return Date{}, bad
	}
	if d.Hour, err = strconv.Atoi(hms[0]); err != nil {
		return Date{}, bad
	}
	if len(hms) > 1 {
		if d.Minute, err = strconv.Atoi(hms[1]); err != nil {
			return Date{}, bad
		}
	}
	if len(hms) > 2 {
		if d.Second, err = strconv.ParseFloat(hms[2], 64); err != nil {
			return Date{}, bad
		}
	}
	return d, nil
}

func isLeap(cal Calendar, y int) bool {
	switch cal {
	case NoLeap, Day360:
		return false
	case AllLeap:
		return true
	case Julian:
		return y%4 == 0
	case Standard:
		if y < 1582 {
			return y%4 == 0
		}
	}
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

var monthDays = [...]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func daysInMonth(cal Calendar, y, m int) int {
	if cal == Day360 {
		return 30
	}
	if m == 2 && isLeap(cal, y) {
		return 29
	}
	return monthDays[m-1]
}

// dayNumber counts days from an arbitrary calendar-specific origin.
// Only differences between day numbers are meaningful.
func dayNumber(cal Calendar, d Date) int {
	switch cal {
	case Day360:
		return d.Year*360 + (d.Month-1)*30 + d.Day - 1
	case NoLeap, AllLeap:
		n := d.Year * 365
		if cal == AllLeap {
			n = d.Year * 366
		}
		for m := 1; m < d.Month; m++ {
			n += daysInMonth(cal, d.Year, m)
		}
		return n + d.Day - 1
	case Julian:
		return julianDay(d, false)
	case Standard:
		// The day after 1582-10-04 (Julian) is 1582-10-15 (Gregorian).
		if d.Year < 1582 || d.Year == 1582 && (d.Month < 10 || d.Month == 10 && d.Day < 15) {
			return julianDay(d, false)
		}
	}
	return julianDay(d, true)
}

// julianDay is the Julian Day Number of a date in the Julian or the
// proleptic Gregorian calendar.
func julianDay(d Date, gregorian bool) int {
	a := (14 - d.Month) / 12
	y := d.Year + 4800 - a
	m := d.Month + 12*a - 3
	n := d.Day + (153*m+2)/5 + 365*y + y/4
	if gregorian {
		return n - y/100 + y/400 - 32045
	}
	return n - 32083
}

func (u Units) epochSeconds() float64 {
	e := u.Epoch
	return float64(dayNumber(u.Calendar, e))*86400 + float64(e.Hour*3600+e.Minute*60) + e.Second
}

// Convert re-expresses values given in from as values in to. Both must
// use the same calendar.
func Convert(values []float64, from, to Units) ([]float64, error) {
	if from.Calendar != to.Calendar {
		return nil, errkind.UnsupportedOperation.New("cftime: cannot convert between %s and %s calendars",
			from.Calendar, to.Calendar)
	}
	offset := from.epochSeconds() - to.epochSeconds()
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v*from.scale + offset) / to.scale
	}
	return out, nil
}
