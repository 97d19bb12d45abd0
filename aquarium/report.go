package aquarium

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatMinimal   Format = "minimal"
	FormatCondensed Format = "condensed"
	FormatDetailed  Format = "detailed"
)

var Formats = []Format{FormatDetailed, FormatCondensed, FormatMinimal}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatMinimal, FormatCondensed, FormatDetailed:
		return f, nil
	}
	return "", fmt.Errorf("unknown notification format %q", s)
}

// Keys of the generated text map.
const (
	KeyOverallAnalysis     = "overall_analysis"
	KeyOverallNotification = "overall_notification_analysis"
	KeyWaterChange         = "water_change_recommended"
	KeyCameraVisual        = "camera_visual_analysis"
)

// AnalysisKey holds the short (display sized) analysis of one parameter.
func AnalysisKey(p Parameter) string {
	return p.Key() + "_analysis"
}

// NotificationKey holds the longer analysis used by detailed reports.
func NotificationKey(p Parameter) string {
	return p.Key() + "_notification_analysis"
}

// NoAnalysisAvailable replaces a whole category of generated text when none
// of it is present.
const NoAnalysisAvailable = "No analysis available"

// MaxDisplayLength is the ceiling for values shown as a single entity state.
const MaxDisplayLength = 255

type ClassifiedReading struct {
	Reading
	Status Status
}

// ClassifyAll classifies readings in order.
func ClassifyAll(readings []Reading, tankType string) []ClassifiedReading {
	out := make([]ClassifiedReading, 0, len(readings))
	for _, r := range readings {
		out = append(out, ClassifiedReading{Reading: r, Status: Classify(r, tankType)})
	}
	return out
}

type OverallStatus struct {
	Label  string
	Symbol string
}

var (
	OverallExcellent      = OverallStatus{Label: "Excellent", Symbol: "🌟"}
	OverallGreat          = OverallStatus{Label: "Great", Symbol: "✨"}
	OverallGood           = OverallStatus{Label: "Good", Symbol: "✅"}
	OverallOK             = OverallStatus{Label: "OK", Symbol: "👍"}
	OverallNeedsAttention = OverallStatus{Label: "Needs Attention", Symbol: "⚠️"}
	OverallNoData         = OverallStatus{Label: "No sensor data", Symbol: "❓"}
)

// Overall reduces per-reading labels to one tier.
func Overall(statuses []Status) OverallStatus {
	total := len(statuses)
	if total == 0 {
		return OverallNoData
	}

	var good, ok, problems int
	for _, s := range statuses {
		switch {
		case s == StatusGood:
			good++
		case s == StatusOK:
			ok++
		case s.IsProblem():
			problems++
		}
	}

	n := float64(total)
	switch {
	case good == total:
		return OverallExcellent
	case float64(good)/n >= 0.75:
		return OverallGreat
	case float64(good+ok)/n >= 0.8:
		return OverallGood
	case float64(problems)/n <= 0.4:
		return OverallOK
	default:
		return OverallNeedsAttention
	}
}

func OverallOf(readings []ClassifiedReading) OverallStatus {
	statuses := make([]Status, 0, len(readings))
	for _, r := range readings {
		statuses = append(statuses, r.Status)
	}
	return Overall(statuses)
}

func (o OverallStatus) Headline(tankType string) string {
	headline := fmt.Sprintf("%s Overall Status: %s", o.Symbol, o.Label)
	if t := strings.TrimSpace(tankType); t != "" {
		headline += fmt.Sprintf(" (%s)", t)
	}
	return headline
}

// ReadingLine renders one reading as it appears below the headline.
func ReadingLine(r ClassifiedReading) string {
	return fmt.Sprintf("%s %s: %s", r.Parameter.Symbol(), r.Parameter.Name(), r.FormattedValue())
}

// Assemble builds the report text. Missing generated text never fails the
// report: with an empty map the result still carries the headline and
// every reading line.
func Assemble(format Format, readings []ClassifiedReading, tankType string, texts map[string]string) string {
	sections := []string{OverallOf(readings).Headline(tankType)}

	if len(readings) > 0 {
		lines := make([]string, 0, len(readings))
		for _, r := range readings {
			lines = append(lines, ReadingLine(r))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	text := func(key string) string {
		return strings.TrimSpace(texts[key])
	}
	firstOf := func(keys ...string) string {
		for _, k := range keys {
			if t := text(k); t != "" {
				return t
			}
		}
		return ""
	}
	appendIf := func(title, body string) {
		if body != "" {
			sections = append(sections, title+"\n"+body)
		}
	}

	switch format {
	case FormatCondensed:
		sections = append(sections, parameterSection(readings, "📋 Parameter Analysis:", func(p Parameter) string {
			return text(AnalysisKey(p))
		}))
		appendIf("🐠 Overall Analysis:", text(KeyOverallAnalysis))
		appendIf("💧 Water Change:", text(KeyWaterChange))

	case FormatDetailed:
		sections = append(sections, parameterSection(readings, "📋 Detailed Parameter Analysis:", func(p Parameter) string {
			return firstOf(NotificationKey(p), AnalysisKey(p))
		}))
		appendIf("🐠 Overall Assessment:", firstOf(KeyOverallNotification, KeyOverallAnalysis))
		appendIf("💧 Water Change:", text(KeyWaterChange))
		appendIf("📷 Visual Analysis:", text(KeyCameraVisual))

	default:
		overall := text(KeyOverallAnalysis)
		if overall == "" {
			sections = append(sections, NoAnalysisAvailable)
		} else {
			sections = append(sections, "🐠 Overall Analysis:\n"+overall)
		}
		appendIf("💧 Water Change:", text(KeyWaterChange))
	}

	return strings.Join(sections, "\n\n")
}

func parameterSection(readings []ClassifiedReading, title string, textFor func(Parameter) string) string {
	var lines []string
	for _, r := range readings {
		t := textFor(r.Parameter)
		if t == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s): %s", r.Parameter.Symbol(), r.Parameter.Name(), r.Status, t))
	}
	if len(lines) == 0 {
		return NoAnalysisAvailable
	}
	return title + "\n" + strings.Join(lines, "\n")
}

// FallbackAnalysis is the per-parameter display text when no generated
// analysis exists.
func FallbackAnalysis(r ClassifiedReading) string {
	return fmt.Sprintf("%s is %s at %s", r.Parameter.Name(), r.Status, r.FormattedValue())
}

// Truncate caps s at max runes, ending in "..." when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
