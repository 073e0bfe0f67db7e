package user

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user id is unknown.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when signing up with an email already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalid wraps validation failures on signup and profile input.
	ErrInvalid = errors.New("invalid user")
)

// Relation names one of the per-user card id sets.
type Relation string

const (
	RelationAuthored    Relation = "authored"
	RelationCorrect     Relation = "correct"
	RelationUnnecessary Relation = "unnecessary"
)

// User is a platform member holding a token balance. Balance is only ever
// changed by the ledger.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	ProfileImage     string    `json:"profile_image,omitempty"`
	Balance          int64     `json:"token_balance"`
	CreatedCards     []string  `json:"created_cards"`
	CorrectCards     []string  `json:"correct_cards"`
	UnnecessaryCards []string  `json:"unnecessary_cards"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	u.CreatedCards = cloneIDs(u.CreatedCards)
	u.CorrectCards = cloneIDs(u.CorrectCards)
	u.UnnecessaryCards = cloneIDs(u.UnnecessaryCards)
	return u
}

// Cards returns the id set for rel.
func (u User) Cards(rel Relation) []string {
	switch rel {
	case RelationAuthored:
		return u.CreatedCards
	case RelationCorrect:
		return u.CorrectCards
	case RelationUnnecessary:
		return u.UnnecessaryCards
	}
	return nil
}

// AddCard records cardID under rel. It reports false when the id was
// already present or rel is unknown.
func (u *User) AddCard(rel Relation, cardID string) bool {
	var set *[]string
	switch rel {
	case RelationAuthored:
		set = &u.CreatedCards
	case RelationCorrect:
		set = &u.CorrectCards
	case RelationUnnecessary:
		set = &u.UnnecessaryCards
	default:
		return false
	}
	for _, id := range *set {
		if id == cardID {
			return false
		}
	}
	*set = append(*set, cardID)
	return true
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return append([]string(nil), ids...)
}
