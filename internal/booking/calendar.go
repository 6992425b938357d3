// ABOUTME: Appointment calendar: bookable dates, the slot grid, and localized day labels
// ABOUTME: Labels are rendered and matched with the same per-language formatting table

package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// DateKeyLayout is the normalized form of a selected date
const DateKeyLayout = "2006-01-02"

// Calendar describes when appointments can be booked.
type Calendar struct {
	DaysAhead    int
	Closed       time.Weekday
	OpenHour     int
	CloseHour    int
	SlotInterval time.Duration
	Location     *time.Location
}

// DefaultCalendar is two weeks ahead, closed Sundays, 09:00 to 18:00 in half hours.
func DefaultCalendar() Calendar {
	return Calendar{
		DaysAhead:    14,
		Closed:       time.Sunday,
		OpenHour:     9,
		CloseHour:    18,
		SlotInterval: 30 * time.Minute,
		Location:     time.UTC,
	}
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DateOption is one offered day.
type DateOption struct {
	Key   string // YYYY-MM-DD
	Label string
}

// Dates returns the bookable days after now's calendar day, skipping the closed weekday.
func (c Calendar) Dates(now time.Time, lang string) []DateOption {
	loc := c.location()
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	labels := labelsFor(lang)

	var out []DateOption
	for i := 1; i <= c.DaysAhead; i++ {
		d := today.AddDate(0, 0, i)
		if d.Weekday() == c.Closed {
			continue
		}
		out = append(out, DateOption{Key: d.Format(DateKeyLayout), Label: labels.format(d)})
	}
	return out
}

// Slots returns the HH:MM start times from opening until the last interval before closing.
func (c Calendar) Slots() []string {
	if c.SlotInterval <= 0 {
		return nil
	}
	open := time.Duration(c.OpenHour) * time.Hour
	closing := time.Duration(c.CloseHour) * time.Hour

	var out []string
	for t := open; t+c.SlotInterval <= closing; t += c.SlotInterval {
		out = append(out, fmt.Sprintf("%02d:%02d", int(t.Hours()), int(t.Minutes())%60))
	}
	return out
}

// Scheduled combines a date key and an HH:MM slot into an instant in the calendar's zone.
func (c Calendar) Scheduled(dateKey, slot string) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout+" 15:04", dateKey+" "+slot, c.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date or time %q %q: %w", dateKey, slot, err)
	}
	return t, nil
}

// MatchDate resolves user input against offered options. It accepts a
// YYYY-MM-DD key, the rendered label with or without the weekday (commas and
// dots are ignored), a label copied with its list number ("2. Monday, 19
// October"), or a bare 1-based list number. Anything else does not match.
func MatchDate(input string, options []DateOption) (DateOption, bool) {
	in := normalizeLabel(input)
	if in == "" {
		return DateOption{}, false
	}

	if opt, ok := matchDateText(in, options); ok {
		return opt, true
	}
	if m := listPrefix.FindStringSubmatch(input); m != nil {
		if opt, ok := matchDateText(normalizeLabel(m[1]), options); ok {
			return opt, true
		}
	}
	if idx, ok := parseBareOrdinal(input, len(options)); ok {
		return options[idx], true
	}
	return DateOption{}, false
}

// listPrefix matches "2. rest" or "2) rest".
var listPrefix = regexp.MustCompile(`^\s*\d{1,6}[.)]\s+(\S.*)$`)

func matchDateText(in string, options []DateOption) (DateOption, bool) {
	for _, opt := range options {
		label := normalizeLabel(opt.Label)
		if in == opt.Key || in == label || in == withoutWeekday(label) {
			return opt, true
		}
	}
	return DateOption{}, false
}

// withoutWeekday drops the leading weekday of a normalized label.
func withoutWeekday(label string) string {
	_, rest, ok := strings.Cut(label, " ")
	if !ok {
		return label
	}
	return rest
}

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// MatchSlot accepts 24-hour H:MM or HH:MM input present in slots and
// returns it in HH:MM form.
func MatchSlot(input string, slots []string) (string, bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", false
	}
	hh := m[1]
	if len(hh) == 1 {
		hh = "0" + hh
	}
	slot := hh + ":" + m[2]
	for _, s := range slots {
		if s == slot {
			return slot, true
		}
	}
	return "", false
}

var labelPunctuation = strings.NewReplacer(",", " ", ".", " ")

// normalizeLabel lowercases, drops commas and dots, and collapses whitespace.
func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(labelPunctuation.Replace(s)), " "))
}

// dayLabels renders a date in one language.
type dayLabels struct {
	weekdays [7]string
	months   [12]string
	layout   func(weekday string, day int, month string) string
}

func (l dayLabels) format(d time.Time) string {
	return l.layout(l.weekdays[d.Weekday()], d.Day(), l.months[d.Month()-1])
}

var (
	englishLabels = dayLabels{
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
		layout: func(w string, d int, m string) string { return fmt.Sprintf("%s, %d %s", w, d, m) },
	}
	germanLabels = dayLabels{
		weekdays: [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"},
		months: [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni",
			"Juli", "August", "September", "Oktober", "November", "Dezember"},
		layout: func(w string, d int, m string) string { return fmt.Sprintf("%s, %d. %s", w, d, m) },
	}
)

// English first: it is the fallback for unmatched tags.
var (
	supportedLanguages = []language.Tag{language.English, language.German}
	labelTables        = []dayLabels{englishLabels, germanLabels}
	languageMatcher    = language.NewMatcher(supportedLanguages)
)

func labelsFor(lang string) dayLabels {
	if lang == "" {
		return englishLabels
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return englishLabels
	}
	_, idx, conf := languageMatcher.Match(tag)
	if conf == language.No {
		return englishLabels
	}
	return labelTables[idx]
}
