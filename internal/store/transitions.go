package store

import "marchemo/queue-service/internal/models"

// Status transitions are forward-only: called and cancelled are terminal.
// Both Ledger implementations consult this table, so it is the single place
// the state machine is written down.
var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"cancel":    {models.StatusWaiting},
	"reset":     {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range AllowedSources(action) {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedSources returns the statuses an action may move a client out of.
// The postgres store passes the slice straight into status = ANY(...) guards.
func AllowedSources(action string) []string {
	return transitionMap[action]
}
