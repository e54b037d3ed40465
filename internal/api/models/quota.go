package models

// Quota is the caller's generation allowance for the current window.
type Quota struct {
	LettersGenerated    int        `json:"letters_generated"`
	MaxLetters          int        `json:"max_letters"`
	Remaining           int        `json:"remaining"`
	CanGenerate         bool       `json:"can_generate"`
	Tier                string     `json:"tier"`
	ResetDate           *Timestamp `json:"reset_date"`
	FirstGenerationDate *Timestamp `json:"first_generation_date"`
}

// QuotaConsumed is returned by POST /v1/me/quota/consume.
type QuotaConsumed struct {
	Granted bool  `json:"granted"`
	Quota   Quota `json:"quota"`
}
