package main

import (
	"time"

	"github.com/caffeineduck/lam/internal/config"
)

// secondsValue is a duration flag that also takes a bare number of seconds,
// so --timeout 30 and --timeout 30s mean the same.
type secondsValue struct {
	d *time.Duration
}

func newSecondsValue(d *time.Duration, def time.Duration) *secondsValue {
	*d = def
	return &secondsValue{d: d}
}

func (v *secondsValue) String() string { return v.d.String() }

func (v *secondsValue) Set(s string) error {
	d, err := config.ParseSeconds(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func (v *secondsValue) Type() string { return "seconds" }
