package registration

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/sinova-register/internal/verification"
)

// Team size limits and default event capacity
const (
	MinMembers      = 2
	MaxMembers      = 4
	DefaultCapacity = 20
)

// MealPreference is a member's catering choice
type MealPreference string

const (
	MealVeg    MealPreference = "Veg"
	MealNonVeg MealPreference = "Non-Veg"
)

// ErrInvalidTeam is wrapped by every validation failure
var ErrInvalidTeam = errors.New("invalid team")

var phonePattern = regexp.MustCompile(`^\+?\d{10,13}$`)

// Member is one participant of a team
type Member struct {
	Name  string         `json:"name"`
	Email string         `json:"email"`
	Phone string         `json:"phone"`
	Meal  MealPreference `json:"meal"`
}

// Team represents a submitted registration bound to a payment proof
type Team struct {
	ID            string              `json:"id"`
	TeamNumber    int                 `json:"team_number"` // 0 while waitlisted
	TeamName      string              `json:"team_name"`
	Members       []Member            `json:"members"`
	TransactionID string              `json:"transaction_id,omitempty"`
	PaymentHash   string              `json:"payment_hash"`
	PaymentStatus verification.Status `json:"payment_status"`
	Confidence    int                 `json:"confidence"`
	Waitlisted    bool                `json:"waitlisted"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Slots reports how much of the event capacity is taken
type Slots struct {
	Capacity     int  `json:"capacity"`
	Confirmed    int  `json:"confirmed"`
	Remaining    int  `json:"remaining"`
	WaitlistOnly bool `json:"waitlist_only"`
}

// Summary aggregates registrations for the admin listing
type Summary struct {
	Teams        int `json:"teams"`
	Confirmed    int `json:"confirmed"`
	Waitlisted   int `json:"waitlisted"`
	Participants int `json:"participants"`
	Veg          int `json:"veg"`
	NonVeg       int `json:"non_veg"`
	Revenue      int `json:"revenue"`
}

// assignSlot numbers the team in commit order, or waitlists it when the event is full
func assignSlot(team *Team, confirmed, capacity int) {
	if confirmed < capacity {
		team.TeamNumber = confirmed + 1
		team.Waitlisted = false
		return
	}
	team.TeamNumber = 0
	team.Waitlisted = true
}

// normalizeTeam trims user input in place
func normalizeTeam(team *Team) {
	team.TeamName = strings.TrimSpace(team.TeamName)
	for i := range team.Members {
		m := &team.Members[i]
		m.Name = strings.TrimSpace(m.Name)
		m.Email = strings.ToLower(strings.TrimSpace(m.Email))
		m.Phone = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(m.Phone))
		m.Meal = MealPreference(strings.TrimSpace(string(m.Meal)))
	}
}

// validateTeam checks the team name and every member
func validateTeam(team *Team) error {
	if team.TeamName == "" {
		return fmt.Errorf("%w: team name is required", ErrInvalidTeam)
	}
	if len(team.TeamName) > 64 {
		return fmt.Errorf("%w: team name must be at most 64 characters", ErrInvalidTeam)
	}
	if n := len(team.Members); n < MinMembers || n > MaxMembers {
		return fmt.Errorf("%w: a team needs %d to %d members, got %d", ErrInvalidTeam, MinMembers, MaxMembers, n)
	}

	emails := make(map[string]bool, len(team.Members))
	for i, m := range team.Members {
		if m.Name == "" {
			return fmt.Errorf("%w: member %d: name is required", ErrInvalidTeam, i+1)
		}
		if _, err := mail.ParseAddress(m.Email); err != nil {
			return fmt.Errorf("%w: member %d: invalid email %q", ErrInvalidTeam, i+1, m.Email)
		}
		if emails[m.Email] {
			return fmt.Errorf("%w: member %d: email %q is used twice", ErrInvalidTeam, i+1, m.Email)
		}
		emails[m.Email] = true
		if !phonePattern.MatchString(m.Phone) {
			return fmt.Errorf("%w: member %d: invalid phone number", ErrInvalidTeam, i+1)
		}
		if m.Meal != MealVeg && m.Meal != MealNonVeg {
			return fmt.Errorf("%w: member %d: meal preference must be %q or %q", ErrInvalidTeam, i+1, MealVeg, MealNonVeg)
		}
	}
	return nil
}

// summarize totals teams, participants, meals and revenue
func summarize(teams []*Team, fee int) Summary {
	var s Summary
	for _, t := range teams {
		s.Teams++
		if t.Waitlisted {
			s.Waitlisted++
		} else {
			s.Confirmed++
		}
		s.Participants += len(t.Members)
		for _, m := range t.Members {
			switch m.Meal {
			case MealVeg:
				s.Veg++
			case MealNonVeg:
				s.NonVeg++
			}
		}
	}
	s.Revenue = s.Confirmed * fee
	return s
}
