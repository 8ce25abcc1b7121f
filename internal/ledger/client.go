// Package ledger wraps the wallet stored procedures. Balances are only ever
// changed through these procedures so concurrent freezes for one user serialize
// in the database.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/sqlinline"
)

// ErrorObserver counts failed ledger calls by operation.
type ErrorObserver interface {
	LedgerError(op string)
}

// Client calls the credit procedures. It never retries.
type Client struct {
	sql      infra.SQLExecutor
	observer ErrorObserver
}

func NewClient(sql infra.SQLExecutor, observer ErrorObserver) *Client {
	return &Client{sql: sql, observer: observer}
}

// Available returns the advisory spendable balance (permanent plus unexpired bonus credits).
func (c *Client) Available(ctx context.Context, userID string) (int64, error) {
	var credits int64
	if err := c.sql.QueryRow(ctx, sqlinline.QGetAvailableCredits, userID).Scan(&credits); err != nil {
		return 0, c.fail("available", err)
	}
	return credits, nil
}

// Freeze reserves amount credits for batchID. It returns domain.ErrInsufficientCredits
// when the wallet cannot cover it, in which case nothing was debited.
func (c *Client) Freeze(ctx context.Context, userID, batchID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger freeze: amount must be positive, got %d", amount)
	}
	var ok bool
	if err := c.sql.QueryRow(ctx, sqlinline.QFreezeCredits, userID, batchID, amount).Scan(&ok); err != nil {
		if isInsufficient(err) {
			return fmt.Errorf("ledger freeze: %w", domain.ErrInsufficientCredits)
		}
		return c.fail("freeze", err)
	}
	if !ok {
		return fmt.Errorf("ledger freeze: %w", domain.ErrInsufficientCredits)
	}
	return nil
}

// Finalize settles a batch: spent credits are consumed, the rest of the freeze is returned.
func (c *Client) Finalize(ctx context.Context, userID, batchID string, spent int64) error {
	if spent < 0 {
		return fmt.Errorf("ledger finalize: negative spend %d", spent)
	}
	if _, err := c.sql.Exec(ctx, sqlinline.QFinalizeCredits, userID, batchID, spent); err != nil {
		return c.fail("finalize", err)
	}
	return nil
}

// Deduct removes credits outside of a batch, e.g. after a payment refund.
func (c *Client) Deduct(ctx context.Context, userID string, amount int64, reference string) error {
	var ok bool
	if err := c.sql.QueryRow(ctx, sqlinline.QDeductCredits, userID, amount, reference).Scan(&ok); err != nil {
		if isInsufficient(err) {
			return fmt.Errorf("ledger deduct: %w", domain.ErrInsufficientCredits)
		}
		return c.fail("deduct", err)
	}
	if !ok {
		return fmt.Errorf("ledger deduct: %w", domain.ErrInsufficientCredits)
	}
	return nil
}

// Grant adds permanent credits to a wallet. reference makes repeated grants a no-op.
func (c *Client) Grant(ctx context.Context, userID string, amount int64, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger grant: amount must be positive, got %d", amount)
	}
	if _, err := c.sql.Exec(ctx, sqlinline.QAddCredits, userID, amount, reference); err != nil {
		return c.fail("grant", err)
	}
	return nil
}

func (c *Client) fail(op string, err error) error {
	if c.observer != nil {
		c.observer.LedgerError(op)
	}
	return fmt.Errorf("ledger %s: %w", op, err)
}

// isInsufficient matches the exception the wallet procedures raise on a short balance.
func isInsufficient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "P0001" && strings.Contains(strings.ToLower(pgErr.Message), "insufficient")
}
