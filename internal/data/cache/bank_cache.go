package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/escrow-settlement/internal/domain/wallet"
)

const bankListPrefix = "escrow:banks:"

// BankListCache implements wallet.BankCache on Redis
type BankListCache struct {
	client redis.Cmdable
	logger *slog.Logger
	ttl    time.Duration
}

func NewBankListCache(logger *slog.Logger, client redis.Cmdable, ttl time.Duration) wallet.BankCache {
	return &BankListCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func bankListKey(currency string) string {
	return bankListPrefix + strings.ToUpper(currency)
}

func (c *BankListCache) Get(ctx context.Context, currency string) ([]wallet.Bank, error) {
	raw, err := c.client.Get(ctx, bankListKey(currency)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bank list: %w", err)
	}

	var banks []wallet.Bank
	if err := json.Unmarshal(raw, &banks); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		c.logger.Warn("Discarding unreadable bank list cache entry", "currency", currency, "error", err)
		return nil, nil
	}

	return banks, nil
}

func (c *BankListCache) Set(ctx context.Context, currency string, banks []wallet.Bank) error {
	raw, err := json.Marshal(banks)
	if err != nil {
		return fmt.Errorf("failed to encode bank list: %w", err)
	}

	if err := c.client.Set(ctx, bankListKey(currency), raw, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to cache bank list", "currency", currency, "error", err)
		return fmt.Errorf("failed to cache bank list: %w", err)
	}

	return nil
}
