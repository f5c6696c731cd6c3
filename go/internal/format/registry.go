package format

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrUnknownFormatter is returned when an update names a formatter that was
// never registered. Updates always name their formatter explicitly, so an
// unknown name is a protocol error rather than something to paper over.
var ErrUnknownFormatter = errors.New("unknown formatter")

// Func turns a raw numeric value into display text.
type Func func(value float64) string

// Registry maps symbolic formatter names to display transforms. The server
// references formatters by name in every inc/set update, so the set must be
// extensible at runtime.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns a registry pre-loaded with the formatters the base game
// references: numeric, cents, duration and identity.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("numeric", ShortenNum)
	r.Register("cents", ShortenCents)
	r.Register("duration", func(v float64) string { return ShortenDuration(time.Duration(v) * time.Second) })
	r.Register("identity", func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) })
	return r
}

// Register adds or replaces a named formatter.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Apply formats value with the named formatter.
func (r *Registry) Apply(name string, value float64) (string, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormatter, name)
	}
	return fn(value), nil
}

var numSuffixes = [...]string{"", "K", "M", "MM"}

// ShortenNum renders large magnitudes compactly: the value is divided by 1000
// until it fits, the division level picks the suffix, and any divided value is
// rounded to two decimals. Values that never needed dividing print exactly.
func ShortenNum(val float64) string {
	level := 0
	for val > 1000 && level < len(numSuffixes)-1 {
		val /= 1000
		level++
	}
	if level == 0 {
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return strconv.FormatFloat(val, 'f', 2, 64) + " " + numSuffixes[level]
}

// ShortenCents renders a minor-unit currency amount in whole units.
func ShortenCents(val float64) string {
	return ShortenNum(val / 100)
}

// ShortenDuration renders a duration as the largest fitting unit followed by
// the shortened remainder, recursing until the remainder is absorbed.
// Durations of a minute or less render as whole seconds.
func ShortenDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(math.Floor(d.Seconds()))
	return shortenSeconds(secs)
}

func shortenSeconds(secs int64) string {
	switch {
	case secs <= 60:
		return fmt.Sprintf("%d s", secs)
	case secs <= 60*60:
		return withRest(fmt.Sprintf("%d m", secs/60), secs%60)
	case secs <= 60*60*24:
		return withRest(fmt.Sprintf("%d h", secs/(60*60)), secs%(60*60))
	default:
		return withRest(fmt.Sprintf("%d days", secs/(60*60*24)), secs%(60*60*24))
	}
}

func withRest(head string, rest int64) string {
	if rest <= 0 {
		return head
	}
	return head + " " + shortenSeconds(rest)
}
