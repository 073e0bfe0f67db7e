package ledger

import "time"

// SystemAccount is the platform issuance pool. It is exempt from the
// solvency floor and has no stored balance.
const SystemAccount = "system"

// Kind classifies a token movement.
type Kind string

const (
	KindInitialBalance Kind = "initial_balance"
	KindCardCreation   Kind = "create_card"
	KindCorrect        Kind = "correct"
	KindSpecialContent Kind = "special_content"
	KindTransfer       Kind = "transfer"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInitialBalance, KindCardCreation, KindCorrect, KindSpecialContent, KindTransfer:
		return true
	}
	return false
}

// Issuance reports whether tokens of this kind enter circulation from the
// system account.
func (k Kind) Issuance() bool {
	return k == KindInitialBalance || k == KindCardCreation
}

// Transaction is an immutable, append-only ledger entry. Amount is always
// positive; direction is given by From and To.
type Transaction struct {
	ID        string    `json:"id"`
	From      string    `json:"from_user_id"`
	To        string    `json:"to_user_id"`
	Amount    int64     `json:"amount"`
	Kind      Kind      `json:"transaction_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Involves reports whether account is a party to tx.
func (tx Transaction) Involves(account string) bool {
	return tx.From == account || tx.To == account
}

// Delta returns the signed balance change tx causes for account.
func (tx Transaction) Delta(account string) int64 {
	var delta int64
	if tx.To == account {
		delta += tx.Amount
	}
	if tx.From == account {
		delta -= tx.Amount
	}
	return delta
}

// AccountBalance is one user's stored balance.
type AccountBalance struct {
	UserID  string
	Balance int64
}

// Snapshot is every stored balance together with the full log, read at a
// single point so that no transaction lands between the two.
type Snapshot struct {
	Balances     []AccountBalance
	Transactions []Transaction
}
