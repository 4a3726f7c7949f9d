package ingest

import "time"

// Submission is one journal entry: a record successfully created in the
// document store. Amount mirrors what was sent, so it is absent when the
// record carried no amount.
type Submission struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Amount    *float64  `json:"amount,omitempty"`
	Merchant  string    `json:"merchant,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Attached  bool      `json:"attached"`
	CreatedAt time.Time `json:"created_at"`
}

// Fields are the user-editable form values accompanying an upload. All are
// optional; they override anything the extraction heuristics guessed.
type Fields struct {
	Amount   string
	Merchant string
	Date     string
	Notes    string
}
