package aquarium

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SensorValue is the current state of a sensor entity.
type SensorValue struct {
	Value        string
	Unit         string
	FriendlyName string
}

type Notification struct {
	Title   string
	Message string
	// ID is stable per tank so a new notification replaces the previous one.
	ID string
}

var tankNamespace = uuid.MustParse("5f0c3a4e-9d1b-4f7a-8e2c-6b5d4a3c2e10")

// TankID derives a stable identifier from the tank name. It is used for
// notification ids and MQTT discovery unique ids, so renaming a tank
// creates a new set of entities.
func TankID(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(tankNamespace, []byte(normalized)).String()
}

// Slug turns a display name into an identifier fragment.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func NewNotification(tank Tank, message string) Notification {
	name := tank.Name
	if name == "" {
		name = "Aquarium"
	}
	return Notification{
		Title:   fmt.Sprintf("🐠 %s Aquarium Analysis", name),
		Message: message,
		ID:      "aquarium_ai_" + TankID(name),
	}
}
