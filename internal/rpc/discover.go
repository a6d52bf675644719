package rpc

import (
	"context"
	"fmt"

	"github.com/solcrank/perp-keeper/internal/model"
	"github.com/solcrank/perp-keeper/internal/txn"
)

// Market account header layout. Only this fixed prefix is interpreted;
// the rest of the slab is opaque to the keeper.
//
//	[0:8)   discriminator "PERPMRKT"
//	[8:40)  collateral mint pubkey
//	[40]    oracle mode (0 = external feed, 1 = admin push)
//	[41:73) oracle account pubkey
const (
	marketHeaderLen   = 73
	offCollateralMint = 8
	offOracleMode     = 40
	offOracleFeed     = 41
)

var marketDiscriminator = [8]byte{'P', 'E', 'R', 'P', 'M', 'R', 'K', 'T'}

// DiscoverMarkets scans the program's accounts and decodes every
// market header into a MarketConfig. Accounts that are not markets
// (wrong discriminator) are skipped silently; markets with a malformed
// header are skipped with a warning since cranking them could never
// succeed.
func (c *Client) DiscoverMarkets(ctx context.Context, programID string) ([]model.MarketConfig, error) {
	accounts, err := c.GetProgramAccounts(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("discover markets: %w", err)
	}

	markets := make([]model.MarketConfig, 0, len(accounts))
	for _, acc := range accounts {
		cfg, ok, err := decodeMarketHeader(acc)
		if err != nil {
			c.logger.Warn("skipping malformed market account",
				"pubkey", acc.Pubkey,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}
		markets = append(markets, cfg)
	}

	c.logger.Debug("market discovery complete",
		"accounts", len(accounts),
		"markets", len(markets),
	)
	return markets, nil
}

// decodeMarketHeader returns (cfg, true, nil) for a market account,
// (zero, false, nil) for a non-market account, and an error for an
// account that claims to be a market but has a truncated header.
func decodeMarketHeader(acc AccountData) (model.MarketConfig, bool, error) {
	if len(acc.Data) < len(marketDiscriminator) {
		return model.MarketConfig{}, false, nil
	}
	if [8]byte(acc.Data[:8]) != marketDiscriminator {
		return model.MarketConfig{}, false, nil
	}
	if len(acc.Data) < marketHeaderLen {
		return model.MarketConfig{}, false, fmt.Errorf("market header truncated: %d bytes", len(acc.Data))
	}

	var mint, feed txn.Pubkey
	copy(mint[:], acc.Data[offCollateralMint:offCollateralMint+32])
	copy(feed[:], acc.Data[offOracleFeed:offOracleFeed+32])

	mode := model.OracleMode(acc.Data[offOracleMode])
	if mode != model.OracleExternal && mode != model.OracleAdmin {
		return model.MarketConfig{}, false, fmt.Errorf("unknown oracle mode %d", acc.Data[offOracleMode])
	}

	return model.MarketConfig{
		Address:        acc.Pubkey,
		CollateralMint: mint.String(),
		OracleMode:     mode,
		OracleFeed:     feed.String(),
	}, true, nil
}
