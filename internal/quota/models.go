// Package quota tracks letter generations against a rolling window that
// starts at an account's first generation.
package quota

import "time"

// Record is an account's usage within its current window.
type Record struct {
	UserID              string     `json:"user_id"`
	LettersGenerated    int        `json:"letters_generated"`
	MaxLetters          int        `json:"max_letters"`
	Tier                string     `json:"tier"`
	ResetDate           *time.Time `json:"reset_date"`
	FirstGenerationDate *time.Time `json:"first_generation_date"`
	Version             int64      `json:"-"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// CanGenerate reports whether another generation fits in the window.
func (r *Record) CanGenerate() bool {
	return r.LettersGenerated < r.MaxLetters
}

// Remaining is the number of generations left in the window.
func (r *Record) Remaining() int {
	if r.LettersGenerated >= r.MaxLetters {
		return 0
	}
	return r.MaxLetters - r.LettersGenerated
}

func (r *Record) clone() *Record {
	c := *r
	if r.ResetDate != nil {
		t := *r.ResetDate
		c.ResetDate = &t
	}
	if r.FirstGenerationDate != nil {
		t := *r.FirstGenerationDate
		c.FirstGenerationDate = &t
	}
	return &c
}
