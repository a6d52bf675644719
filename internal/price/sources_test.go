package price

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPairsSource_PicksMostLiquidPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/dex/tokens/MintA" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pairs": []map[string]any{
				{"priceUsd": "1.10", "liquidity": map[string]any{"usd": 5_000.0}},
				{"priceUsd": "1.25", "liquidity": map[string]any{"usd": 900_000.0}},
				{"priceUsd": "0.90", "liquidity": map[string]any{"usd": 100.0}},
			},
		})
	}))
	defer server.Close()

	s := NewPairsSource(server.URL, nil)

	got, err := s.Quote(context.Background(), "MintA")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if got != 1_250_000 {
		t.Errorf("priceE6 = %d, want 1250000", got)
	}
}

func TestPairsSource_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		wantErr error
	}{
		{
			"empty pairs",
			map[string]any{"pairs": []any{}},
			ErrNoPairs,
		},
		{
			"zero liquidity",
			map[string]any{"pairs": []map[string]any{
				{"priceUsd": "1.0", "liquidity": map[string]any{"usd": 0.0}},
			}},
			ErrNoLiquidity,
		},
		{
			"negative price",
			map[string]any{"pairs": []map[string]any{
				{"priceUsd": "-0.5", "liquidity": map[string]any{"usd": 1000.0}},
			}},
			ErrNotPositive,
		},
		{
			"zero price",
			map[string]any{"pairs": []map[string]any{
				{"priceUsd": "0", "liquidity": map[string]any{"usd": 1000.0}},
			}},
			ErrNotPositive,
		},
		{
			"non-numeric price",
			map[string]any{"pairs": []map[string]any{
				{"priceUsd": "NaN", "liquidity": map[string]any{"usd": 1000.0}},
			}},
			ErrBadQuote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.payload)
			}))
			defer server.Close()

			s := NewPairsSource(server.URL, nil)

			_, err := s.Quote(context.Background(), "MintA")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPairsSource_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewPairsSource(server.URL, nil)

	if _, err := s.Quote(context.Background(), "MintA"); !errors.Is(err, ErrSourceStatus) {
		t.Errorf("err = %v, want ErrSourceStatus", err)
	}
}

func TestAggSource_Quote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "MintA" {
			t.Errorf("id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"MintA": map[string]any{"price": 0.042, "liquidityUsd": 35_000.0},
			},
		})
	}))
	defer server.Close()

	s := NewAggSource(server.URL, nil)

	got, err := s.Quote(context.Background(), "MintA")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if got != 42_000 {
		t.Errorf("priceE6 = %d, want 42000", got)
	}
}

func TestAggSource_UnknownMint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer server.Close()

	s := NewAggSource(server.URL, nil)

	if _, err := s.Quote(context.Background(), "MintA"); !errors.Is(err, ErrNoPairs) {
		t.Errorf("err = %v, want ErrNoPairs", err)
	}
}

func TestAggSource_IlliquidRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"MintA": map[string]any{"price": 1.5, "liquidityUsd": 0.0},
			},
		})
	}))
	defer server.Close()

	s := NewAggSource(server.URL, nil)

	if _, err := s.Quote(context.Background(), "MintA"); !errors.Is(err, ErrNoLiquidity) {
		t.Errorf("err = %v, want ErrNoLiquidity", err)
	}
}

func TestParseQuoteE6(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.25", 1_250_000, false},
		{"0.000001", 1, false},
		{"150000", 150_000_000_000, false},
		{"0.0000001", 0, true}, // Truncates to zero E6 units
		{"0", 0, true},
		{"-3", 0, true},
		{"NaN", 0, true},
		{"", 0, true},
		{"1e3", 1_000_000_000, false},
	}
	for _, tt := range tests {
		got, err := parseQuoteE6(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseQuoteE6(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseQuoteE6(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
