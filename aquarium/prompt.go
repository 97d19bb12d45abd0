package aquarium

import (
	"fmt"
	"strings"
)

// Tank describes the aquarium the readings come from. Everything except
// Name and Type is optional context for the text generator.
type Tank struct {
	Name                 string
	Type                 string
	Volume               string
	Filtration           string
	WaterChangeFrequency string
	Inhabitants          string
	LastWaterChange      string
	MiscInfo             string
}

// Field is one entry of the structure the generator is asked to fill.
type Field struct {
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Selector    map[string]any `json:"selector"`
}

type Attachment struct {
	MediaContentID   string `json:"media_content_id"`
	MediaContentType string `json:"media_content_type"`
}

// GenerationRequest is everything a text generation backend needs: a free
// text instruction and the names of the fields expected back.
type GenerationRequest struct {
	TaskName     string
	Instructions string
	Structure    map[string]Field
	Attachments  []Attachment
}

type RequestOptions struct {
	Format Format
	// Analyse selects parameters that get their own generated text. A nil
	// map enables all of them.
	Analyse map[Parameter]bool
	// Camera is the camera entity to attach, empty when none.
	Camera string
}

func (o RequestOptions) analyses(p Parameter) bool {
	if o.Analyse == nil {
		return true
	}
	return o.Analyse[p]
}

const unitGuidance = `IMPORTANT: Pay attention to units when evaluating values:
- Temperature: Consider if values are in Celsius (°C) or Fahrenheit (°F)
- Salinity: Consider if values are in ppt/psu, specific gravity (SG) or conductivity (mS/cm)
- Dissolved Oxygen: Consider if values are in mg/L, ppm, or percentage saturation
- Water Level: Consider if percentages or absolute measurements
- ORP: Values are in millivolts (mV)
- pH: Typically no units (scale 0-14)`

func textField(description string) Field {
	return Field{
		Description: description,
		Required:    true,
		Selector:    map[string]any{"text": nil},
	}
}

// Conditions lists the tank context and readings, one per line, in the
// form the generator sees them.
func Conditions(tank Tank, readings []ClassifiedReading) string {
	lines := []string{fmt.Sprintf("- Type: %s", tank.Type)}
	optional := []struct{ label, value string }{
		{"Volume", tank.Volume},
		{"Filtration", tank.Filtration},
		{"Inhabitants", tank.Inhabitants},
		{"Water change schedule", tank.WaterChangeFrequency},
		{"Last water change", tank.LastWaterChange},
		{"Notes", tank.MiscInfo},
	}
	for _, o := range optional {
		if v := strings.TrimSpace(o.value); v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", o.label, v))
		}
	}

	for _, r := range readings {
		unit := r.Unit
		if unit == "" {
			unit = "(no units)"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s %s (status: %s)", r.Parameter.Name(), r.Raw, unit, r.Status))
	}
	return strings.Join(lines, "\n")
}

// BuildRequest assembles the prompt and the output structure for one
// analysis cycle.
func BuildRequest(tank Tank, readings []ClassifiedReading, opts RequestOptions) GenerationRequest {
	tankType := strings.ToLower(tank.Type)
	structure := map[string]Field{}

	for _, r := range readings {
		if !opts.analyses(r.Parameter) {
			continue
		}
		name := strings.ToLower(r.Parameter.Name())
		if r.Parameter == PH {
			name = "pH"
		}
		structure[AnalysisKey(r.Parameter)] = textField(fmt.Sprintf(
			"A brief 1-2 sentence analysis of the %s for this %s aquarium, under 200 characters.", name, tankType))
		if opts.Format == FormatDetailed {
			structure[NotificationKey(r.Parameter)] = textField(fmt.Sprintf(
				"A detailed analysis of the %s with recommendations if needed.", name))
		}
	}

	structure[KeyOverallAnalysis] = textField(fmt.Sprintf(
		"A brief 1-2 sentence overall health assessment of this %s aquarium, under 200 characters.", tankType))
	if opts.Format == FormatDetailed {
		structure[KeyOverallNotification] = textField(
			"A detailed overall assessment of the aquarium with all parameters in mind.")
	}
	structure[KeyWaterChange] = textField(
		"Whether a water change is recommended. Start with 'Yes' or 'No' followed by a short reason.")

	var attachments []Attachment
	if opts.Camera != "" {
		structure[KeyCameraVisual] = textField(
			"An analysis of the attached camera image: water clarity, algae, fish behaviour and visible issues.")
		attachments = append(attachments, Attachment{
			MediaContentID:   "media-source://camera/" + opts.Camera,
			MediaContentType: "image/jpeg",
		})
	}

	var b strings.Builder
	b.WriteString("Based on the current conditions:\n\n")
	b.WriteString(Conditions(tank, readings))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Analyse the conditions of this %s aquarium and make suggestions on how to improve them if needed. ", tankType)
	b.WriteString("Only mention recommendations if important, otherwise state the current status. ")
	b.WriteString("Each brief analysis must be a single, complete sentence under 255 characters. Always correctly write ph as pH.")
	if opts.Camera != "" {
		b.WriteString(" Use the attached camera image for the visual analysis.")
	}
	b.WriteString("\n\n")
	b.WriteString(unitGuidance)

	taskName := "Aquarium AI Analysis"
	if tank.Name != "" {
		taskName = tank.Name + " " + taskName
	}

	return GenerationRequest{
		TaskName:     taskName,
		Instructions: b.String(),
		Structure:    structure,
		Attachments:  attachments,
	}
}

// WaterChangeNeeded interprets the generated recommendation.
func WaterChangeNeeded(texts map[string]string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(texts[KeyWaterChange])), "yes")
}
