package form

import "strings"

// registeredStatuses are the page texts that mean the owner already holds a spot.
var registeredStatuses = []string{
	"You're in",
	"You're going",
	"You're registered",
	"Pending approval",
	"On the waitlist",
	"Registered",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// IsRegisteredStatus reports whether text is one of the known registration statuses, ignoring
// case, pictographs and curly apostrophes.
func IsRegisteredStatus(text string) bool {
	t := Sanitize(apostrophes.Replace(text))
	if t == "" {
		return false
	}
	for _, s := range registeredStatuses {
		if strings.EqualFold(t, s) {
			return true
		}
	}
	return false
}
