package ledger

import (
	"fmt"
	"strconv"

	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/escrow-settlement/internal/config"
)

// Client is the subset of the TigerBeetle client the gateway uses
type Client interface {
	CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error)
	CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error)
	LookupAccounts(accountIDs []types.Uint128) ([]types.Account, error)
	LookupTransfers(transferIDs []types.Uint128) ([]types.Transfer, error)
	Close()
}

// NewTigerBeetleClient connects to the configured cluster. Bare port numbers
// are accepted as addresses, matching the TigerBeetle CLI.
func NewTigerBeetleClient(cfg *config.LedgerConfig) (Client, error) {
	addresses := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		if _, err := strconv.Atoi(addr); err == nil {
			addr = "127.0.0.1:" + addr
		}
		addresses[i] = addr
	}

	client, err := tb.NewClient(types.ToUint128(cfg.ClusterID), addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	return client, nil
}
