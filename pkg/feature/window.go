package feature

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// AliveWindow is how far back a feature's data may reach. It is written
// like a timestamp, "0001-06-00" meaning one year and six months, with an
// optional "THH:MM:SS" part.
type AliveWindow struct {
	Years, Months, Days     int
	Hours, Minutes, Seconds int
}

var aliveWindowPattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:T(\d{2}):(\d{2}):(\d{2}))?$`)

func ParseAliveWindow(s string) (AliveWindow, error) {
	m := aliveWindowPattern.FindStringSubmatch(s)
	if m == nil {
		return AliveWindow{}, fmt.Errorf("invalid data_alive_time %q", s)
	}
	n := make([]int, 6)
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n[i], _ = strconv.Atoi(part)
	}
	w := AliveWindow{Years: n[0], Months: n[1], Days: n[2], Hours: n[3], Minutes: n[4], Seconds: n[5]}
	if w.Hours > 23 || w.Minutes > 59 || w.Seconds > 59 {
		return AliveWindow{}, fmt.Errorf("invalid data_alive_time %q", s)
	}
	return w, nil
}

// Since is the earliest moment inside the window ending at ref.
func (w AliveWindow) Since(ref time.Time) time.Time {
	return ref.AddDate(-w.Years, -w.Months, -w.Days).
		Add(-time.Duration(w.Hours)*time.Hour - time.Duration(w.Minutes)*time.Minute - time.Duration(w.Seconds)*time.Second)
}

func (w AliveWindow) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", w.Years, w.Months, w.Days, w.Hours, w.Minutes, w.Seconds)
}
