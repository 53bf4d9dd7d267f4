package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toolcall/internal/command"
	"toolcall/internal/logger"
)

// Device backs the on-device capabilities (calendar, contacts, location,
// music, health) with local data, so the binary runs without any platform
// integration. Real integrations would replace the data sources, not the
// handlers.
type Device struct {
	logger   logger.Logger
	now      func() time.Time
	location string
	calendar []CalendarEntry
	contacts []Contact
	health   HealthMetrics
}

type CalendarEntry struct {
	Title string
	Start time.Time
}

type Contact struct {
	Name  string
	Phone string
	Email string
}

type HealthMetrics struct {
	Steps        int
	RestingHeart int
	SleepHours   float64
}

func NewDevice() *Device {
	now := time.Now
	today := func(hour, minute int) time.Time {
		t := now()
		return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	}
	return &Device{
		logger:   logger.NoOp(),
		now:      now,
		location: "Helsinki, Finland",
		calendar: []CalendarEntry{
			{Title: "Standup", Start: today(9, 15)},
			{Title: "Lunch with Sam", Start: today(12, 0)},
			{Title: "Dentist", Start: today(16, 30).AddDate(0, 0, 1)},
		},
		contacts: []Contact{
			{Name: "Alice Example", Phone: "+358 40 123 4567", Email: "alice@example.com"},
			{Name: "Bob Mattila", Phone: "+358 50 765 4321", Email: "bob@example.com"},
		},
		health: HealthMetrics{Steps: 7412, RestingHeart: 58, SleepHours: 7.5},
	}
}

func (d *Device) SetLogger(logger logger.Logger) *Device {
	d.logger = logger
	return d
}

func (d *Device) CalendarEvents(ctx context.Context, cmd command.Command) (string, error) {
	c, ok := cmd.(command.CalendarEvents)
	if !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	entries := d.calendar
	if c.Day != "" {
		day, err := d.resolveDay(c.Day)
		if err != nil {
			return "", err
		}
		var filtered []CalendarEntry
		for _, entry := range entries {
			if sameDay(entry.Start, day) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	d.logger.Debug("calendar lookup for %q matched %d entries", c.Day, len(entries))
	if len(entries) == 0 {
		return "No calendar events found.", nil
	}
	var sb strings.Builder
	sb.WriteString("Calendar events:")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("\n- %s at %s", entry.Title, entry.Start.Format("Mon Jan 2 15:04")))
	}
	return sb.String(), nil
}

func (d *Device) resolveDay(day string) (time.Time, error) {
	switch strings.ToLower(day) {
	case "today":
		return d.now(), nil
	case "tomorrow":
		return d.now().AddDate(0, 0, 1), nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", day, d.now().Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized day %q, use \"today\", \"tomorrow\" or YYYY-MM-DD", day)
	}
	return parsed, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (d *Device) Contacts(ctx context.Context, cmd command.Command) (string, error) {
	c, ok := cmd.(command.Contacts)
	if !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	needle := strings.ToLower(strings.TrimSpace(c.Name))
	if needle == "" {
		return "", fmt.Errorf("no contact name given")
	}
	var matches []Contact
	for _, contact := range d.contacts {
		if strings.Contains(strings.ToLower(contact.Name), needle) {
			matches = append(matches, contact)
		}
	}
	d.logger.Debug("contact lookup %q matched %d contacts", c.Name, len(matches))
	if len(matches) == 0 {
		return "", fmt.Errorf("no contact found matching %q", c.Name)
	}
	var sb strings.Builder
	for i, contact := range matches {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s: %s, %s", contact.Name, contact.Phone, contact.Email))
	}
	return sb.String(), nil
}

func (d *Device) Location(ctx context.Context, cmd command.Command) (string, error) {
	if _, ok := cmd.(command.Location); !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	d.logger.Debug("location request served: %s", d.location)
	return "Current location: " + d.location, nil
}

func (d *Device) PlayMusic(ctx context.Context, cmd command.Command) (string, error) {
	c, ok := cmd.(command.PlayMusic)
	if !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	d.logger.Debug("music request: title=%q artist=%q", c.Title, c.Artist)
	switch {
	case c.Title != "" && c.Artist != "":
		return fmt.Sprintf("Now playing %q by %s.", c.Title, c.Artist), nil
	case c.Title != "":
		return fmt.Sprintf("Now playing %q.", c.Title), nil
	case c.Artist != "":
		return fmt.Sprintf("Now playing songs by %s.", c.Artist), nil
	default:
		return "Resumed playback.", nil
	}
}

func (d *Device) HealthSummary(ctx context.Context, cmd command.Command) (string, error) {
	if _, ok := cmd.(command.HealthSummary); !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	d.logger.Debug("health summary served")
	return fmt.Sprintf("Today: %d steps, resting heart rate %d bpm, %.1f hours of sleep.",
		d.health.Steps, d.health.RestingHeart, d.health.SleepHours), nil
}
