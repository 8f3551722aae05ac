package payparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testnetBech32 = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
	mainnetBech32 = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	mainnetP2PKH  = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
	testnetP2PKH  = "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn"
	nodePubkey    = "02eec7245d6b7d2ccb30380bfbe2a3648cd7a942653f5aa340edcea1f283686619"
)

var invoiceData = strings.Repeat("qpzry9x8gf", 8)

func sats(n uint64) *uint64 { return &n }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		network string
		want    ParsedParams
		wantErr error
	}{
		{
			name:    "signet bech32 address",
			input:   testnetBech32,
			network: NetworkSignet,
			want:    ParsedParams{Address: testnetBech32, Network: NetworkSignet},
		},
		{
			name:    "uppercase bech32 address",
			input:   strings.ToUpper(testnetBech32),
			network: NetworkTestnet,
			want:    ParsedParams{Address: strings.ToUpper(testnetBech32), Network: NetworkTestnet},
		},
		{
			name:    "mainnet base58 address",
			input:   mainnetP2PKH,
			network: NetworkBitcoin,
			want:    ParsedParams{Address: mainnetP2PKH, Network: NetworkBitcoin},
		},
		{
			name:    "testnet base58 on signet",
			input:   testnetP2PKH,
			network: NetworkSignet,
			want:    ParsedParams{Address: testnetP2PKH, Network: NetworkSignet},
		},
		{
			name:    "mainnet address on signet",
			input:   mainnetBech32,
			network: NetworkSignet,
			wantErr: ErrNetworkMismatch,
		},
		{
			name:  "default network is signet",
			input: testnetBech32,
			want:  ParsedParams{Address: testnetBech32, Network: NetworkSignet},
		},
		{
			name:    "signet invoice with amount",
			input:   "lntbs25u1" + invoiceData,
			network: NetworkSignet,
			want:    ParsedParams{Invoice: "lntbs25u1" + invoiceData, AmountSats: sats(2500), Network: NetworkSignet},
		},
		{
			name:    "lightning scheme and upper case",
			input:   "LIGHTNING:LNBC1M1" + strings.ToUpper(invoiceData),
			network: NetworkBitcoin,
			want:    ParsedParams{Invoice: "lnbc1m1" + invoiceData, AmountSats: sats(100_000), Network: NetworkBitcoin},
		},
		{
			name:    "amountless regtest invoice",
			input:   "lnbcrt1" + invoiceData,
			network: NetworkRegtest,
			want:    ParsedParams{Invoice: "lnbcrt1" + invoiceData, Network: NetworkRegtest},
		},
		{
			name:    "mainnet invoice on signet",
			input:   "lnbc10n1" + invoiceData,
			network: NetworkSignet,
			wantErr: ErrNetworkMismatch,
		},
		{
			name:    "lnurl",
			input:   "LNURL1DP68GURN8GHJ7UM9WFMXJCM99E3K7MF0V9CXJ0M385EKVCENXC6R2C35XVUKXEFCV5MKVV34X5EKZD3EV56NYD3HXQURZEPEXEJXXEPNXSCRVWFNV9NXZCN9XQ6XYEFHVGCXXCMYXYMNSERXFQ5FNS",
			network: NetworkSignet,
			want: ParsedParams{
				LNURL:   "lnurl1dp68gurn8ghj7um9wfmxjcm99e3k7mf0v9cxj0m385ekvcenxc6r2c35xvukxefcv5mkvv34x5ekzd3ev56nyd3hxqurzepexejxxepnxscrvwfnv9nxzcn9xq6xyefhvgcxxcmyxymnserxfq5fns",
				Network: NetworkSignet,
			},
		},
		{
			name:    "lightning address",
			input:   "satoshi@example.com",
			network: NetworkSignet,
			want:    ParsedParams{LNURL: "satoshi@example.com", Network: NetworkSignet},
		},
		{
			name:    "node pubkey with host",
			input:   nodePubkey + "@127.0.0.1:9735",
			network: NetworkSignet,
			want:    ParsedParams{NodePubkey: nodePubkey, Network: NetworkSignet},
		},
		{
			name:    "bip21 unified",
			input:   "bitcoin:" + testnetBech32 + "?amount=0.0001&message=coffee&lightning=lntbs10u1" + invoiceData,
			network: NetworkSignet,
			want: ParsedParams{
				Address:    testnetBech32,
				Invoice:    "lntbs10u1" + invoiceData,
				AmountSats: sats(10_000),
				Memo:       "coffee",
				Network:    NetworkSignet,
			},
		},
		{
			name:    "bip21 label as memo",
			input:   "BITCOIN:" + testnetBech32 + "?label=rent",
			network: NetworkSignet,
			want:    ParsedParams{Address: testnetBech32, Memo: "rent", Network: NetworkSignet},
		},
		{
			name:    "bip21 bad amount",
			input:   "bitcoin:" + testnetBech32 + "?amount=lots",
			network: NetworkSignet,
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bip21 amount beyond supply",
			input:   "bitcoin:" + testnetBech32 + "?amount=1e300",
			network: NetworkSignet,
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "invoice amount beyond supply",
			input:   "lntbs184467440737" + "1" + invoiceData,
			network: NetworkSignet,
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bip21 wrong network",
			input:   "bitcoin:" + mainnetBech32,
			network: NetworkSignet,
			wantErr: ErrNetworkMismatch,
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: ErrEmpty,
		},
		{
			name:    "garbage",
			input:   "hello world",
			wantErr: ErrUnrecognized,
		},
		{
			name:    "mixed case bech32",
			input:   "tb1QW508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
			network: NetworkSignet,
			wantErr: ErrUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default{}.Parse(tt.input, tt.network)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.HasDestination())
		})
	}
}

func TestInvoiceAmountSats(t *testing.T) {
	tests := map[string]uint64{
		"2":      200_000_000,
		"1m":     100_000,
		"25u":    2_500,
		"10n":    1,
		"15n":    1,
		"10000p": 1,
	}
	for in, want := range tests {
		got, err := invoiceAmountSats(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestAmountsBeyondSupplyRejected(t *testing.T) {
	overSupply := []string{
		"21000001",
		"184467440737", // n*1e8 wraps uint64
		"18446744073709551615",
		"21000000001m",
		"2100000000000001u",
		"21000000000000010n",
	}
	for _, in := range overSupply {
		_, err := invoiceAmountSats(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}

	// Pico amounts are divided down, so the largest n stays within supply.
	got, err := invoiceAmountSats("18446744073709551615p")
	require.NoError(t, err)
	assert.LessOrEqual(t, got, MaxSats)

	got, err = invoiceAmountSats("21000000")
	require.NoError(t, err)
	assert.Equal(t, MaxSats, got)

	for _, in := range []string{"1e300", "21000000.00000001", "1.8446744073709552e19"} {
		_, err := btcToSats(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
	got, err = btcToSats("21000000")
	require.NoError(t, err)
	assert.Equal(t, MaxSats, got)
}
