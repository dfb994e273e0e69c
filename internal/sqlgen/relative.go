package sqlgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/randalmurphal/whatif/internal/errors"
)

// Relative changes resolve against the value stored right now, so applying
// the same instruction twice compounds: "increase by 10%" on 15000 gives
// 16500, then 18150. Absolute changes resolve to the same value every time.

var (
	percentRe  = regexp.MustCompile(`(?i)^(increase|raise|grow|decrease|reduce|lower|cut)\s+by\s+(\d+(?:\.\d+)?)\s*(?:%|percent)$`)
	deltaRe    = regexp.MustCompile(`(?i)^(increase|raise|grow|decrease|reduce|lower|cut)\s+by\s+(-?\d+(?:\.\d+)?)$`)
	absoluteRe = regexp.MustCompile(`(?i)^(?:set\s+)?to\s+(-?\d+(?:\.\d+)?)$|^set\s+(-?\d+(?:\.\d+)?)$|^(-?\d+(?:\.\d+)?)$`)
	fractionRe = regexp.MustCompile(`(?i)^to\s+(?:a\s+)?(half|third|quarter|(\d+)\s*/\s*(\d+))(?:\s+of(?:\s+.*)?)?$`)
	factorRe   = regexp.MustCompile(`(?i)^(double|triple|halve)$`)
)

// IsRelative reports whether a change expression depends on the current
// value. Absolute expressions resolve without reading the store.
func IsRelative(change string) bool {
	c := strings.TrimSpace(change)
	return percentRe.MatchString(c) || deltaRe.MatchString(c) ||
		fractionRe.MatchString(c) || factorRe.MatchString(c)
}

// ResolveChange turns a change expression and the current stored value into
// the concrete new value. Resolution is deterministic: the same expression
// against the same current value always yields the same result. An
// expression this resolver does not recognize is a validation failure, never
// a guess.
func ResolveChange(current float64, change string) (float64, error) {
	c := strings.TrimSpace(change)

	if m := percentRe.FindStringSubmatch(c); m != nil {
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return 0, errors.ErrValidation(fmt.Sprintf("bad percentage in %q", change))
		}
		if isDecrease(m[1]) {
			return current * (1 - pct/100), nil
		}
		return current * (1 + pct/100), nil
	}

	if m := deltaRe.FindStringSubmatch(c); m != nil {
		delta, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return 0, errors.ErrValidation(fmt.Sprintf("bad amount in %q", change))
		}
		if isDecrease(m[1]) {
			return current - delta, nil
		}
		return current + delta, nil
	}

	if m := fractionRe.FindStringSubmatch(c); m != nil {
		switch strings.ToLower(m[1]) {
		case "half":
			return current / 2, nil
		case "third":
			return current / 3, nil
		case "quarter":
			return current / 4, nil
		default:
			num, err1 := strconv.ParseFloat(m[2], 64)
			den, err2 := strconv.ParseFloat(m[3], 64)
			if err1 != nil || err2 != nil || den == 0 {
				return 0, errors.ErrValidation(fmt.Sprintf("bad fraction in %q", change))
			}
			return current * num / den, nil
		}
	}

	if m := factorRe.FindStringSubmatch(c); m != nil {
		switch strings.ToLower(m[1]) {
		case "double":
			return current * 2, nil
		case "triple":
			return current * 3, nil
		default:
			return current / 2, nil
		}
	}

	if m := absoluteRe.FindStringSubmatch(c); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				v, err := strconv.ParseFloat(g, 64)
				if err != nil {
					return 0, errors.ErrValidation(fmt.Sprintf("bad value in %q", change))
				}
				return v, nil
			}
		}
	}

	return 0, errors.ErrValidation(fmt.Sprintf("cannot resolve change %q", change))
}

func isDecrease(verb string) bool {
	switch strings.ToLower(verb) {
	case "decrease", "reduce", "lower", "cut":
		return true
	}
	return false
}
