package orchestrator

import (
	"espdesk/internal/model"
	"strings"
)

// ParseContacts reads one contact per line as "email,firstName,lastName".
// Blank lines and lines without an email are dropped; duplicates are kept.
func ParseContacts(raw string) []model.Contact {
	var contacts []model.Contact

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		contact := model.Contact{Email: strings.TrimSpace(fields[0])}
		if contact.Email == "" {
			continue
		}
		if len(fields) > 1 {
			contact.FirstName = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			contact.LastName = strings.TrimSpace(fields[2])
		}

		contacts = append(contacts, contact)
	}

	return contacts
}
