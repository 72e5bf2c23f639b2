package entity

import (
	"fmt"
	"time"
)

// Outcome is the closed set of authentication attempt results.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeBadCredentials  Outcome = "bad_credentials"
	OutcomeLockedOut       Outcome = "locked_out"
	OutcomeInactiveAccount Outcome = "inactive_account"
	// OutcomeUnavailable records attempts that could not be evaluated
	// because the identity store failed.
	OutcomeUnavailable Outcome = "unavailable"
)

// Outcomes lists every valid outcome.
var Outcomes = []Outcome{OutcomeSuccess, OutcomeBadCredentials, OutcomeLockedOut, OutcomeInactiveAccount, OutcomeUnavailable}

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeBadCredentials, OutcomeLockedOut, OutcomeInactiveAccount, OutcomeUnavailable:
		return true
	}
	return false
}

func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}

// Entry is one row of the append-only `auth_log` table.
type Entry struct {
	LogID             string    `db:"log_id" json:"log_id"`
	RestaurantUID     *string   `db:"restaurant_uid" json:"restaurant_uid,omitempty"`
	AttemptedUsername string    `db:"attempted_username" json:"attempted_username"`
	Outcome           Outcome   `db:"outcome" json:"outcome"`
	Timestamp         time.Time `db:"occurred_at" json:"timestamp"`
	Source            string    `db:"source" json:"source"`
	UserAgent         string    `db:"user_agent" json:"user_agent,omitempty"`
}

// Filter selects entries for a query. Zero values leave a bound open.
type Filter struct {
	RestaurantUID string
	From          time.Time
	To            time.Time
	Limit         int
}
