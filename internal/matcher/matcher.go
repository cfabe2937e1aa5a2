package matcher

import (
	"strings"

	"signalbet/internal/models"
)

// Match returns the first active rule, in slice order, whose trigger occurs in
// the message content. Matching is case-sensitive. Empty triggers never match.
func Match(msg models.Message, rules []models.Rule) *models.Rule {
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.Trigger == "" {
			continue
		}
		if strings.Contains(msg.Content, r.Trigger) {
			return r
		}
	}
	return nil
}
