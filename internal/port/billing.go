package port

import "context"

// CreditLedger is the billing collaborator. Ingestion debits one credit per
// eligible file; the balance bookkeeping UI lives outside this core.
type CreditLedger interface {
	// Remaining returns the user's current credit balance.
	Remaining(ctx context.Context, userID string) (int, error)

	// Debit removes amount credits from the user's balance.
	Debit(ctx context.Context, userID string, amount int) error
}
