package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned when a period is not YYYY or YYYY-MM
var ErrInvalidPeriod = errors.New("invalid period format, use YYYY or YYYY-MM")

// DateRange is an inclusive range of trading days
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange parses two YYYY-MM-DD bounds. An empty bound is open-ended.
func NewDateRange(from, to string) (DateRange, error) {
	var r DateRange
	if from != "" {
		t, err := time.Parse(DayLayout, from)
		if err != nil {
			return r, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(DayLayout, to)
		if err != nil {
			return r, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		r.To = t
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("invalid date range: %s is before %s", to, from)
	}
	return r, nil
}

// ParsePeriod converts YYYY or YYYY-MM into the inclusive range of that year or month
func ParsePeriod(period string) (DateRange, error) {
	period = strings.TrimSpace(period)

	switch {
	case len(period) == 4:
		year, err := strconv.Atoi(period)
		if err != nil || year < 1 {
			return DateRange{}, ErrInvalidPeriod
		}
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{From: from, To: from.AddDate(1, 0, -1)}, nil

	case len(period) == 7 && period[4] == '-':
		year, err := strconv.Atoi(period[:4])
		if err != nil || year < 1 {
			return DateRange{}, ErrInvalidPeriod
		}
		month, err := strconv.Atoi(period[5:])
		if err != nil || month < 1 || month > 12 {
			return DateRange{}, ErrInvalidPeriod
		}
		from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return DateRange{From: from, To: from.AddDate(0, 1, -1)}, nil
	}

	return DateRange{}, ErrInvalidPeriod
}

// FromDay returns the lower bound as YYYY-MM-DD, empty when open
func (r DateRange) FromDay() string {
	if r.From.IsZero() {
		return ""
	}
	return r.From.Format(DayLayout)
}

// ToDay returns the upper bound as YYYY-MM-DD, empty when open
func (r DateRange) ToDay() string {
	if r.To.IsZero() {
		return ""
	}
	return r.To.Format(DayLayout)
}

// ContainsDay reports whether a YYYY-MM-DD day falls inside the range
func (r DateRange) ContainsDay(day string) bool {
	if from := r.FromDay(); from != "" && day < from {
		return false
	}
	if to := r.ToDay(); to != "" && day > to {
		return false
	}
	return true
}

func (r DateRange) String() string {
	from, to := r.FromDay(), r.ToDay()
	if from == "" {
		from = "*"
	}
	if to == "" {
		to = "*"
	}
	return from + ".." + to
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	out := struct {
		From *string `json:"from"`
		To   *string `json:"to"`
	}{}
	if from := r.FromDay(); from != "" {
		out.From = &from
	}
	if to := r.ToDay(); to != "" {
		out.To = &to
	}
	return json.Marshal(out)
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var in struct {
		From *string `json:"from"`
		To   *string `json:"to"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var from, to string
	if in.From != nil {
		from = *in.From
	}
	if in.To != nil {
		to = *in.To
	}
	parsed, err := NewDateRange(from, to)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
