package aquarium

import "strings"

type Status string

const (
	StatusGood   Status = "Good"
	StatusOK     Status = "OK"
	StatusCheck  Status = "Check"
	StatusAdjust Status = "Adjust"
	StatusLow    Status = "Low"
	StatusHigh   Status = "High"
)

// Statuses is the closed set of labels Classify can return.
var Statuses = []Status{StatusGood, StatusOK, StatusCheck, StatusAdjust, StatusLow, StatusHigh}

// IsProblem is true for every label other than Good and OK.
func (s Status) IsProblem() bool {
	return s != StatusGood && s != StatusOK
}

// band is an inclusive numeric range.
type band struct {
	min, max float64
}

func (b band) contains(v float64) bool {
	return v >= b.min && v <= b.max
}

type rangeRule struct {
	good, ok band
	outside  Status
}

func (r rangeRule) classify(v float64) Status {
	switch {
	case r.good.contains(v):
		return StatusGood
	case r.ok.contains(v):
		return StatusOK
	default:
		return r.outside
	}
}

// ceilingRule is used for dissolved oxygen where too much is a problem of
// its own (supersaturation).
type ceilingRule struct {
	high, good, ok float64
}

func (r ceilingRule) classify(v float64) Status {
	switch {
	case v > r.high:
		return StatusHigh
	case v >= r.good:
		return StatusGood
	case v >= r.ok:
		return StatusOK
	default:
		return StatusLow
	}
}

var (
	celsiusRule    = rangeRule{good: band{23, 28}, ok: band{22, 30}, outside: StatusCheck}
	fahrenheitRule = rangeRule{good: band{74, 82}, ok: band{72, 86}, outside: StatusCheck}

	freshwaterPHRule = rangeRule{good: band{6.5, 8.0}, ok: band{6.0, 8.5}, outside: StatusAdjust}
	marinePHRule     = rangeRule{good: band{8.0, 8.4}, ok: band{7.8, 8.6}, outside: StatusAdjust}

	specificGravityRule = rangeRule{good: band{1.023, 1.026}, ok: band{1.020, 1.028}, outside: StatusCheck}
	conductivityRule    = rangeRule{good: band{50, 55}, ok: band{45, 58}, outside: StatusCheck}
	pptRule             = rangeRule{good: band{33, 36}, ok: band{30, 38}, outside: StatusCheck}

	oxygenMassRule       = ceilingRule{high: 12, good: 6, ok: 4}
	oxygenSaturationRule = ceilingRule{high: 110, good: 80, ok: 60}

	freshwaterORPRule = rangeRule{good: band{200, 400}, ok: band{150, 500}, outside: StatusCheck}
	marineORPRule     = rangeRule{good: band{300, 400}, ok: band{250, 450}, outside: StatusCheck}
)

// Classify maps a reading and the tank type to a status label. It never
// fails: text that is not a number goes through keyword matching instead.
func Classify(r Reading, tankType string) Status {
	if !r.Numeric {
		return classifyText(r.Raw)
	}

	unit := strings.ToLower(r.Unit)
	v := r.Value

	switch r.Parameter {
	case Temperature:
		if isFahrenheit(unit) {
			return fahrenheitRule.classify(v)
		}
		return celsiusRule.classify(v)

	case PH:
		if IsMarine(tankType) {
			return marinePHRule.classify(v)
		}
		return freshwaterPHRule.classify(v)

	case Salinity:
		switch {
		case unit == "sg" || strings.Contains(unit, "specific gravity"):
			return specificGravityRule.classify(v)
		case strings.Contains(unit, "ms/cm"):
			return conductivityRule.classify(v)
		default:
			return pptRule.classify(v)
		}

	case DissolvedOxygen:
		if strings.Contains(unit, "%") {
			return oxygenSaturationRule.classify(v)
		}
		// ppm and mg/L are numerically equivalent in water
		return oxygenMassRule.classify(v)

	case WaterLevel:
		if strings.Contains(unit, "%") || strings.Contains(r.Raw, "%") {
			switch {
			case v >= 80:
				return StatusGood
			case v >= 60:
				return StatusOK
			default:
				return StatusLow
			}
		}
		// absolute levels cannot be judged without the tank geometry
		return StatusOK

	case ORP:
		if IsMarine(tankType) {
			return marineORPRule.classify(v)
		}
		return freshwaterORPRule.classify(v)
	}

	return StatusOK
}

// ClassifyValue is a convenience wrapper for callers holding loose values.
func ClassifyValue(p Parameter, raw, unit, tankType string) Status {
	return Classify(NewReading(p, raw, unit), tankType)
}

func isFahrenheit(unit string) bool {
	u := strings.TrimSpace(strings.TrimPrefix(unit, "°"))
	return u == "f" || strings.Contains(unit, "fahrenheit") || strings.HasSuffix(unit, "°f")
}

func classifyText(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "normal", "good", "excellent", "ok":
		return StatusGood
	case "high", "low", "warning":
		return StatusCheck
	default:
		return StatusOK
	}
}
