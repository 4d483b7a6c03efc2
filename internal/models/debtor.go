package models

import "time"

const (
	DebtorStatusOpen   = "open"
	DebtorStatusClosed = "closed"
)

// Debtor is an entry in the external bad-debtor list consulted during intake.
type Debtor struct {
	ID               string    `db:"id" json:"id"`
	FullName         string    `db:"full_name" json:"full_name"`
	NationalIDNumber string    `db:"national_id_number" json:"national_id_number"`
	Creditor         string    `db:"creditor" json:"creditor"`
	Amount           string    `db:"amount" json:"amount"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
