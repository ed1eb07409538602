package resolve

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var intPattern = regexp.MustCompile(`^[+-]?\d+$`)

// CoerceBool interprets a literal as a boolean where the interpretation
// is unambiguous. Integers and floats qualify only at exactly 0 or 1;
// anything else (2, 0.5, "maybe") fails rather than guessing.
func CoerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		if t == 0 {
			return false, true
		}
		if t == 1 {
			return true, true
		}
		return false, false
	case int:
		if t == 0 || t == 1 {
			return t == 1, true
		}
		return false, false
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "on", "1":
			return true, true
		case "false", "no", "off", "0", "":
			return false, true
		}
	}
	return false, false
}

// CoerceInt interprets a literal as an integer. Booleans never coerce to
// integers, floats must be integral, and strings must be plain signed
// decimal digits.
func CoerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case bool:
		return 0, false
	case int:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case string:
		s := strings.TrimSpace(t)
		if !intPattern.MatchString(s) {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
