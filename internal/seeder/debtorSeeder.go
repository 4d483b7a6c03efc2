package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/cradoe/pawnbroker/internal/models"
)

const defaultTimeout = 5 * time.Second

// demoDebtors stand in for the bureau list until a live feed is connected.
// Closed entries are invisible to Match, so only open ones are seeded.
var demoDebtors = []models.Debtor{
	{FullName: "Tawanda Chikore", NationalIDNumber: "63-987654-Z-11", Creditor: "Harare Micro Credit", Amount: "1250.00", Status: models.DebtorStatusOpen},
	{FullName: "Nyasha Mutasa", NationalIDNumber: "08-445566-K-47", Creditor: "Bulawayo Cash Loans", Amount: "480.00", Status: models.DebtorStatusOpen},
	{FullName: "Farai Ndlovu", NationalIDNumber: "29-112233-P-05", Creditor: "Mutare Furniture Hire", Amount: "300.00", Status: models.DebtorStatusOpen},
}

// seedDebtors inserts the demo entries that are not already listed.
func (seeder *Seeder) seedDebtors(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	inserted := 0
	for _, d := range demoDebtors {
		existing, err := seeder.DB.Debtor().Match(ctx, d.FullName, d.NationalIDNumber)
		if err != nil {
			return fmt.Errorf("look up debtor %s: %w", d.FullName, err)
		}
		if len(existing) > 0 {
			continue
		}

		debtor := d
		debtor.CreatedAt = time.Now().UTC()
		if err := seeder.DB.Debtor().Insert(ctx, &debtor); err != nil {
			return fmt.Errorf("insert debtor %s: %w", d.FullName, err)
		}
		inserted++
	}

	seeder.Logger.Info("debtors seeded", "inserted", inserted, "listed", len(demoDebtors))
	return nil
}
