package aquarium

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Parameter int

const (
	Temperature Parameter = iota
	PH
	Salinity
	DissolvedOxygen
	WaterLevel
	ORP
)

// Parameters lists every parameter in report order.
var Parameters = []Parameter{Temperature, PH, Salinity, DissolvedOxygen, WaterLevel, ORP}

type parameterInfo struct {
	key    string
	name   string
	symbol string
}

var parameterTable = map[Parameter]parameterInfo{
	Temperature:     {key: "temperature", name: "Temperature", symbol: "🌡️"},
	PH:              {key: "ph", name: "pH", symbol: "🧪"},
	Salinity:        {key: "salinity", name: "Salinity", symbol: "🧂"},
	DissolvedOxygen: {key: "dissolved_oxygen", name: "Dissolved Oxygen", symbol: "💨"},
	WaterLevel:      {key: "water_level", name: "Water Level", symbol: "🌊"},
	ORP:             {key: "orp", name: "ORP", symbol: "⚡"},
}

// Key is the snake_case identifier used in config files, AI structure
// fields and MQTT object ids.
func (p Parameter) Key() string {
	if info, ok := parameterTable[p]; ok {
		return info.key
	}
	return fmt.Sprintf("parameter_%d", int(p))
}

func (p Parameter) Name() string {
	if info, ok := parameterTable[p]; ok {
		return info.name
	}
	return fmt.Sprintf("Parameter %d", int(p))
}

func (p Parameter) Symbol() string {
	if info, ok := parameterTable[p]; ok {
		return info.symbol
	}
	return "📊"
}

func (p Parameter) String() string {
	return p.Name()
}

// ParseParameter looks a parameter up by its key.
func ParseParameter(key string) (Parameter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, p := range Parameters {
		if p.Key() == normalized {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter %q", key)
}

// Reading is one sensor value as seen at the start of an analysis cycle.
type Reading struct {
	Parameter Parameter
	EntityID  string
	Raw       string
	Unit      string
	Value     float64
	Numeric   bool
	// Percent is set when Raw carried its own trailing percent sign.
	Percent bool
}

// NewReading parses raw into a numeric value when possible. A trailing
// percent sign is accepted; NaN and infinities are treated as text.
func NewReading(p Parameter, raw, unit string) Reading {
	r := Reading{
		Parameter: p,
		Raw:       strings.TrimSpace(raw),
		Unit:      strings.TrimSpace(unit),
	}

	r.Percent = strings.HasSuffix(r.Raw, "%")
	numberText := strings.TrimSpace(strings.TrimSuffix(r.Raw, "%"))
	value, err := strconv.ParseFloat(numberText, 64)
	if err == nil && !math.IsNaN(value) && !math.IsInf(value, 0) {
		r.Value = value
		r.Numeric = true
	}
	return r
}

// FormattedValue renders the reading the way it appears in reports:
// numbers rounded to one decimal place with the unit appended, text
// passed through unchanged.
func (r Reading) FormattedValue() string {
	if !r.Numeric {
		return r.Raw
	}

	value := strconv.FormatFloat(r.Value, 'f', 1, 64)
	if value == "-0.0" {
		value = "0.0"
	}
	if r.Unit == "" {
		if r.Percent {
			return value + "%"
		}
		return value
	}
	if strings.HasPrefix(r.Unit, "°") || strings.HasPrefix(r.Unit, "%") {
		return value + r.Unit
	}
	return value + " " + r.Unit
}

// IsMarine reports whether the free-text tank type selects saltwater bands.
func IsMarine(tankType string) bool {
	t := strings.ToLower(tankType)
	for _, marker := range []string{"saltwater", "marine", "reef"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
