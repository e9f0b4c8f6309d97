package sync

import "fmt"

// Mode is the kind of pull that ran.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// PullStats summarizes the local effect of one pull.
type PullStats struct {
	Mode Mode `json:"mode"`

	BooksInserted        int `json:"books_inserted"`
	BooksUpdated         int `json:"books_updated"`
	BooksDeleted         int `json:"books_deleted"`
	CategoriesInserted   int `json:"categories_inserted"`
	TransactionsInserted int `json:"transactions_inserted"`
	TransactionsUpdated  int `json:"transactions_updated"`
	SettingsApplied      int `json:"settings_applied"`

	// Skipped counts remote child rows whose parent book could not be
	// resolved locally, plus settings that could not be translated.
	Skipped int `json:"skipped"`

	// PushedLocal is set when a full pull found the remote store empty and
	// pushed local data up instead.
	PushedLocal bool `json:"pushed_local"`
}

// Writes returns the number of local entity and setting rows written. The
// watermark is not counted.
func (s *PullStats) Writes() int {
	if s == nil {
		return 0
	}
	return s.BooksInserted + s.BooksUpdated + s.BooksDeleted +
		s.CategoriesInserted + s.TransactionsInserted + s.TransactionsUpdated +
		s.SettingsApplied
}

func (s *PullStats) String() string {
	if s == nil {
		return "no pull"
	}
	if s.PushedLocal {
		return fmt.Sprintf("%s pull: remote empty, pushed local data", s.Mode)
	}
	return fmt.Sprintf("%s pull: books +%d ~%d -%d, categories +%d, transactions +%d ~%d, settings %d, skipped %d",
		s.Mode, s.BooksInserted, s.BooksUpdated, s.BooksDeleted, s.CategoriesInserted,
		s.TransactionsInserted, s.TransactionsUpdated, s.SettingsApplied, s.Skipped)
}
