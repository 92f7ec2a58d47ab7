package tasks

import "time"

// Task is one pending catalog-index job: embed the item's photo and insert
// the vector into the catalog index.
type Task struct {
	ID        int64
	ItemID    string
	Model     string
	Reason    string
	Attempts  int
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
