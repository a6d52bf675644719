package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/solcrank/perp-keeper/internal/model"
	"github.com/solcrank/perp-keeper/internal/txn"
)

func marketAccountData(mint, feed txn.Pubkey, mode byte) []byte {
	data := make([]byte, marketHeaderLen+64) // Header plus opaque slab tail
	copy(data[:8], marketDiscriminator[:])
	copy(data[offCollateralMint:], mint[:])
	data[offOracleMode] = mode
	copy(data[offOracleFeed:], feed[:])
	return data
}

func TestDecodeMarketHeader(t *testing.T) {
	mint := txn.MustPubkey("So11111111111111111111111111111111111111112")
	feed := txn.MustPubkey("SysvarC1ock11111111111111111111111111111111")

	cfg, ok, err := decodeMarketHeader(AccountData{
		Pubkey: "Market111",
		Data:   marketAccountData(mint, feed, 1),
	})
	if err != nil || !ok {
		t.Fatalf("decodeMarketHeader: ok=%v err=%v", ok, err)
	}
	if cfg.Address != "Market111" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.CollateralMint != mint.String() {
		t.Errorf("CollateralMint = %q, want %q", cfg.CollateralMint, mint.String())
	}
	if cfg.OracleMode != model.OracleAdmin {
		t.Errorf("OracleMode = %v, want admin", cfg.OracleMode)
	}
	if cfg.OracleFeed != feed.String() {
		t.Errorf("OracleFeed = %q, want %q", cfg.OracleFeed, feed.String())
	}
}

func TestDecodeMarketHeader_SkipsNonMarkets(t *testing.T) {
	_, ok, err := decodeMarketHeader(AccountData{Data: []byte("USERACCT-and-more-data")})
	if ok || err != nil {
		t.Errorf("non-market account: ok=%v err=%v, want skip", ok, err)
	}

	_, ok, err = decodeMarketHeader(AccountData{Data: []byte{1, 2}})
	if ok || err != nil {
		t.Errorf("tiny account: ok=%v err=%v, want skip", ok, err)
	}
}

func TestDecodeMarketHeader_TruncatedIsError(t *testing.T) {
	data := make([]byte, 20)
	copy(data, marketDiscriminator[:])

	_, ok, err := decodeMarketHeader(AccountData{Data: data})
	if ok {
		t.Error("truncated market decoded as valid")
	}
	if err == nil {
		t.Error("expected truncation error")
	}
}

func TestDecodeMarketHeader_UnknownOracleMode(t *testing.T) {
	mint := txn.MustPubkey("So11111111111111111111111111111111111111112")
	_, ok, err := decodeMarketHeader(AccountData{
		Data: marketAccountData(mint, mint, 7),
	})
	if ok || err == nil {
		t.Errorf("unknown oracle mode: ok=%v err=%v, want error", ok, err)
	}
}

func TestDiscoverMarkets(t *testing.T) {
	mint := txn.MustPubkey("So11111111111111111111111111111111111111112")
	feed := txn.MustPubkey("SysvarC1ock11111111111111111111111111111111")

	accounts := []map[string]any{
		{
			"pubkey": "MarketA",
			"account": map[string]any{
				"data": []string{base64.StdEncoding.EncodeToString(marketAccountData(mint, feed, 0)), "base64"},
			},
		},
		{
			"pubkey": "NotAMarket",
			"account": map[string]any{
				"data": []string{base64.StdEncoding.EncodeToString([]byte("USERACCT-opaque")), "base64"},
			},
		},
		{
			"pubkey": "MarketB",
			"account": map[string]any{
				"data": []string{base64.StdEncoding.EncodeToString(marketAccountData(mint, feed, 1)), "base64"},
			},
		},
	}

	server := rpcServer(t, func(method string, _ json.RawMessage) (any, *RPCError) {
		if method != "getProgramAccounts" {
			t.Errorf("method = %q", method)
		}
		return accounts, nil
	})
	defer server.Close()

	c := NewClient(server.URL)

	markets, err := c.DiscoverMarkets(context.Background(), "Prog111")
	if err != nil {
		t.Fatalf("DiscoverMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("len(markets) = %d, want 2", len(markets))
	}
	if markets[0].Address != "MarketA" || markets[0].OracleMode != model.OracleExternal {
		t.Errorf("markets[0] = %+v", markets[0])
	}
	if markets[1].Address != "MarketB" || markets[1].OracleMode != model.OracleAdmin {
		t.Errorf("markets[1] = %+v", markets[1])
	}
}
