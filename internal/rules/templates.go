package rules

import "strings"

// Template is a pre-filled rule blueprint from the built-in catalog.
type Template struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Name            string `json:"name"`
	Condition       string `json:"condition"`
	Priority        string `json:"priority"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

// Template categories.
const (
	CategorySecurity   = "security"
	CategoryPets       = "pets"
	CategoryFamily     = "family"
	CategoryAutomation = "automation"
	CategoryBusiness   = "business"
)

var templateCatalog = []Template{
	{ID: "person_detected", Category: CategorySecurity, Name: "Person detected",
		Condition: "a person is visible in the scene", Priority: PriorityHigh, CooldownSeconds: 120},
	{ID: "door_open", Category: CategorySecurity, Name: "Door left open",
		Condition: "a door is visibly open", Priority: PriorityMedium, CooldownSeconds: 300},
	{ID: "package_delivered", Category: CategorySecurity, Name: "Package delivered",
		Condition: "a package or box has been placed near the entrance", Priority: PriorityMedium, CooldownSeconds: 600},
	{ID: "unknown_vehicle", Category: CategorySecurity, Name: "Unknown vehicle",
		Condition: "a vehicle is parked or stopped in view", Priority: PriorityMedium, CooldownSeconds: 300},

	{ID: "pet_on_counter", Category: CategoryPets, Name: "Pet on the counter",
		Condition: "a cat or dog is on a kitchen counter or table", Priority: PriorityMedium, CooldownSeconds: 120},
	{ID: "pet_at_door", Category: CategoryPets, Name: "Pet waiting at the door",
		Condition: "a pet is sitting or standing right at a door as if waiting to go out", Priority: PriorityLow, CooldownSeconds: 300},

	{ID: "baby_awake", Category: CategoryFamily, Name: "Baby is awake",
		Condition: "a baby or small child is awake, moving, or standing in the crib", Priority: PriorityHigh, CooldownSeconds: 300},
	{ID: "elderly_fall", Category: CategoryFamily, Name: "Possible fall",
		Condition: "a person is lying on the floor in an unusual position", Priority: PriorityCritical, CooldownSeconds: 60},

	{ID: "lights_left_on", Category: CategoryAutomation, Name: "Lights left on",
		Condition: "the room is empty but the lights are on", Priority: PriorityLow, CooldownSeconds: 1800},
	{ID: "stove_unattended", Category: CategoryAutomation, Name: "Stove unattended",
		Condition: "a stove burner appears to be on with nobody in the kitchen", Priority: PriorityCritical, CooldownSeconds: 120},

	{ID: "queue_length", Category: CategoryBusiness, Name: "Queue building up",
		Condition: "three or more people are waiting in line", Priority: PriorityMedium, CooldownSeconds: 600},
	{ID: "shelf_empty", Category: CategoryBusiness, Name: "Shelf empty",
		Condition: "a display shelf is visibly empty or nearly empty", Priority: PriorityLow, CooldownSeconds: 3600},
}

// ListTemplates returns catalog entries, optionally filtered by category.
func ListTemplates(category string) []Template {
	if category == "" {
		out := make([]Template, len(templateCatalog))
		copy(out, templateCatalog)
		return out
	}
	var out []Template
	for _, t := range templateCatalog {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}

// TemplateByID finds one catalog entry.
func TemplateByID(id string) (Template, bool) {
	for _, t := range templateCatalog {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// FromTemplate instantiates a WatchRule from a catalog entry. The caller may
// override camera, notification, and naming afterwards.
func FromTemplate(t Template, cameraID string) WatchRule {
	return WatchRule{
		Name:            t.Name,
		Condition:       t.Condition,
		CameraID:        cameraID,
		Priority:        t.Priority,
		Enabled:         true,
		CooldownSeconds: t.CooldownSeconds,
		Notification:    NotificationTarget{Type: NotifyLocal},
	}
}
