package ledger

import "fmt"

// AccountCode classifies a ledger account
type AccountCode uint16

const (
	CodeCompanyAccount AccountCode = 1000
	CodeEscrowWallet   AccountCode = 1001
	CodeUserWallet     AccountCode = 1002
	CodeBankAccount    AccountCode = 1003
)

// TransferCode classifies a ledger transfer
type TransferCode uint16

const (
	CodeEscrowPayment      TransferCode = 300
	CodeReleaseEscrowFunds TransferCode = 400
	CodeWalletWithdrawal   TransferCode = 500
)

var ledgers = map[string]uint32{
	"ngnLedger": 566,
	"usdLedger": 840,
}

// LedgerID resolves a ledger name to its numeric ledger.
func LedgerID(name string) (uint32, error) {
	id, ok := ledgers[name]
	if !ok {
		return 0, fmt.Errorf("unknown ledger %q", name)
	}
	return id, nil
}

// Shape selects how a transfer moves funds
type Shape int

const (
	ShapePosted Shape = iota
	ShapePending
	ShapePostPending
	ShapeVoidPending
)

func (s Shape) String() string {
	switch s {
	case ShapePosted:
		return "posted"
	case ShapePending:
		return "pending"
	case ShapePostPending:
		return "post_pending"
	case ShapeVoidPending:
		return "void_pending"
	default:
		return "unknown"
	}
}
