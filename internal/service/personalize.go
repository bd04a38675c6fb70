package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// placeholders maps placeholder names (without braces) to their values.
type placeholders map[string]string

func eventPlaceholders(event *domain.Event, recipient domain.Recipient, loc *time.Location) placeholders {
	vars := placeholders{
		"firstName": recipient.FirstName(),
		"name":      strings.TrimSpace(recipient.Name),
	}
	if vars["name"] == "" {
		vars["name"] = vars["firstName"]
	}
	if event == nil {
		return vars
	}

	start := event.StartsAt.In(loc)
	vars["eventTitle"] = event.Title
	vars["eventDate"] = start.Format("Monday, January 2")
	vars["eventTime"] = start.Format("15:04 MST")
	vars["host"] = event.Host
	vars["joinUrl"] = event.JoinURL
	vars["registeredCount"] = strconv.Itoa(event.RegisteredCount)
	if left := event.SpotsLeft(); left >= 0 {
		vars["spotsLeft"] = strconv.Itoa(left)
	} else {
		vars["spotsLeft"] = "plenty of"
	}
	return vars
}

func formatMoney(value float64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return fmt.Sprintf("%.2f", value)
	}
	return fmt.Sprintf("%.2f %s", value, currency)
}

// render substitutes {{name}} placeholders. Unknown placeholders are left as is.
func render(raw string, vars placeholders) string {
	if raw == "" || len(vars) == 0 {
		return raw
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(raw))
}
