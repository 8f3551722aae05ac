// Package payparse classifies strings a user pastes or scans into a payment
// destination: on-chain address, BOLT11 invoice, node pubkey or LNURL.
package payparse

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Networks understood by the parser.
const (
	NetworkBitcoin = "bitcoin"
	NetworkTestnet = "testnet"
	NetworkSignet  = "signet"
	NetworkRegtest = "regtest"
)

var (
	ErrEmpty           = errors.New("empty input")
	ErrUnrecognized    = errors.New("unrecognized payment string")
	ErrNetworkMismatch = errors.New("payment string is for a different network")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// ParsedParams is the classified result. At most one of Address, Invoice,
// NodePubkey and LNURL is the primary destination; a unified BIP21 URI can
// carry both Address and Invoice.
type ParsedParams struct {
	Address    string  `json:"address,omitempty"`
	Invoice    string  `json:"invoice,omitempty"`
	NodePubkey string  `json:"node_pubkey,omitempty"`
	LNURL      string  `json:"lnurl,omitempty"`
	AmountSats *uint64 `json:"amount_sats,omitempty"`
	Network    string  `json:"network,omitempty"`
	Memo       string  `json:"memo,omitempty"`
}

// HasDestination reports whether any payable field was found.
func (p ParsedParams) HasDestination() bool {
	return p.Address != "" || p.Invoice != "" || p.NodePubkey != "" || p.LNURL != ""
}

// Parser is the collaborator the session uses for incoming strings.
type Parser interface {
	Parse(input, network string) (ParsedParams, error)
}

// Default is the built-in Parser.
type Default struct{}

func (Default) Parse(input, network string) (ParsedParams, error) {
	return Parse(input, network)
}

// Parse classifies input for the wallet's network.
func Parse(input, network string) (ParsedParams, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ParsedParams{}, ErrEmpty
	}
	if network == "" {
		network = NetworkSignet
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "bitcoin:"):
		return parseBIP21(s[len("bitcoin:"):], network)
	case strings.HasPrefix(lower, "lightning:"):
		return parseLightning(s[len("lightning:"):], network)
	}

	if isNodePubkey(s) {
		return ParsedParams{NodePubkey: nodeID(s), Network: network}, nil
	}
	if p, ok, err := tryLightning(s, network); ok {
		return p, err
	}
	if net, ok := addressNetwork(s); ok {
		if !sameNetwork(net, network) {
			return ParsedParams{}, fmt.Errorf("%w: address is for %s", ErrNetworkMismatch, net)
		}
		return ParsedParams{Address: s, Network: network}, nil
	}
	return ParsedParams{}, ErrUnrecognized
}

func parseLightning(rest, network string) (ParsedParams, error) {
	p, ok, err := tryLightning(strings.TrimPrefix(rest, "//"), network)
	if !ok {
		return ParsedParams{}, ErrUnrecognized
	}
	return p, err
}

// tryLightning recognises invoices, LNURLs and lightning addresses.
func tryLightning(s, network string) (ParsedParams, bool, error) {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "lnurl1") {
		return ParsedParams{LNURL: lower, Network: network}, true, nil
	}
	if isLightningAddress(s) {
		return ParsedParams{LNURL: lower, Network: network}, true, nil
	}
	net, hrpAmount, ok := invoiceNetwork(lower)
	if !ok {
		return ParsedParams{}, false, nil
	}
	if !sameInvoiceNetwork(net, network) {
		return ParsedParams{}, true, fmt.Errorf("%w: invoice is for %s", ErrNetworkMismatch, net)
	}
	p := ParsedParams{Invoice: lower, Network: network}
	if hrpAmount != "" {
		sats, err := invoiceAmountSats(hrpAmount)
		if err != nil {
			return ParsedParams{}, true, err
		}
		p.AmountSats = &sats
	}
	return p, true, nil
}

func parseBIP21(rest, network string) (ParsedParams, error) {
	addr, rawQuery, _ := strings.Cut(rest, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ParsedParams{}, fmt.Errorf("parse bip21 query: %w", err)
	}

	var p ParsedParams
	if addr != "" {
		net, ok := addressNetwork(addr)
		if !ok {
			return ParsedParams{}, ErrUnrecognized
		}
		if !sameNetwork(net, network) {
			return ParsedParams{}, fmt.Errorf("%w: address is for %s", ErrNetworkMismatch, net)
		}
		p.Address = addr
	}

	if ln := q.Get("lightning"); ln != "" {
		lp, ok, err := tryLightning(ln, network)
		if err != nil {
			return ParsedParams{}, err
		}
		if ok {
			p.Invoice = lp.Invoice
			p.LNURL = lp.LNURL
			p.AmountSats = lp.AmountSats
		}
	}
	if amt := q.Get("amount"); amt != "" {
		sats, err := btcToSats(amt)
		if err != nil {
			return ParsedParams{}, err
		}
		p.AmountSats = &sats
	}
	p.Memo = q.Get("message")
	if p.Memo == "" {
		p.Memo = q.Get("label")
	}
	if !p.HasDestination() {
		return ParsedParams{}, ErrUnrecognized
	}
	p.Network = network
	return p, nil
}

// MaxSats is the total bitcoin supply in satoshis. No amount may exceed it.
const MaxSats uint64 = 21_000_000 * 100_000_000

// btcToSats converts a decimal BTC string to satoshis.
func btcToSats(s string) (uint64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	sats := math.Round(f * 1e8)
	if sats > float64(MaxSats) {
		return 0, fmt.Errorf("%w: %q exceeds the bitcoin supply", ErrInvalidAmount, s)
	}
	return uint64(sats), nil
}

var invoicePrefixes = []struct {
	prefix  string
	network string
}{
	// Longer prefixes first: lnbcrt shares lnbc, lntbs shares lntb.
	{"lnbcrt", NetworkRegtest},
	{"lntbs", NetworkSignet},
	{"lntb", NetworkTestnet},
	{"lnbc", NetworkBitcoin},
}

// invoiceNetwork returns the network and the raw amount part of a BOLT11
// human readable prefix.
func invoiceNetwork(lower string) (string, string, bool) {
	sep := strings.LastIndexByte(lower, '1')
	if sep < 0 || len(lower)-sep < 7 {
		return "", "", false
	}
	hrp := lower[:sep]
	for _, ip := range invoicePrefixes {
		if strings.HasPrefix(hrp, ip.prefix) {
			amt := hrp[len(ip.prefix):]
			if amt != "" && !validHRPAmount(amt) {
				return "", "", false
			}
			if !isBech32Data(lower[sep+1:]) {
				return "", "", false
			}
			return ip.network, amt, true
		}
	}
	return "", "", false
}

func validHRPAmount(s string) bool {
	digits := strings.TrimRight(s, "munp")
	if digits == "" || len(s)-len(digits) > 1 {
		return false
	}
	_, err := strconv.ParseUint(digits, 10, 64)
	return err == nil
}

// invoiceAmountSats converts a BOLT11 amount (digits plus optional
// multiplier) into satoshis, rounding sub-satoshi amounts down.
func invoiceAmountSats(s string) (uint64, error) {
	digits := s
	mult := byte(0)
	if last := s[len(s)-1]; last < '0' || last > '9' {
		mult = last
		digits = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var mul, div uint64 = 1, 1
	switch mult {
	case 0:
		mul = 100_000_000
	case 'm':
		mul = 100_000
	case 'u':
		mul = 100
	case 'n':
		div = 10
	case 'p':
		div = 10_000
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	// n > MaxSats/mul also rules out overflow of n*mul.
	if n > MaxSats/mul || n/div > MaxSats {
		return 0, fmt.Errorf("%w: %q exceeds the bitcoin supply", ErrInvalidAmount, s)
	}
	return n * mul / div, nil
}

func sameInvoiceNetwork(invoiceNet, network string) bool {
	return invoiceNet == network
}

// sameNetwork compares address networks. Testnet and signet share address
// encodings.
func sameNetwork(addrNet, network string) bool {
	if addrNet == network {
		return true
	}
	return addrNet == NetworkTestnet && network == NetworkSignet
}

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func isBech32Data(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(bech32Charset, r) {
			return false
		}
	}
	return true
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// addressNetwork recognises bech32 and base58 addresses. Signet addresses
// report as testnet.
func addressNetwork(s string) (string, bool) {
	lower := strings.ToLower(s)
	if looksBech32(lower) && s != lower && s != strings.ToUpper(s) {
		// Mixed case bech32 is invalid.
		return "", false
	}
	switch {
	case strings.HasPrefix(lower, "bcrt1"):
		return bech32Address(lower, "bcrt1", NetworkRegtest)
	case strings.HasPrefix(lower, "bc1"):
		return bech32Address(lower, "bc1", NetworkBitcoin)
	case strings.HasPrefix(lower, "tb1"):
		return bech32Address(lower, "tb1", NetworkTestnet)
	}

	if len(s) < 26 || len(s) > 35 {
		return "", false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return "", false
		}
	}
	switch s[0] {
	case '1', '3':
		return NetworkBitcoin, true
	case 'm', 'n', '2':
		return NetworkTestnet, true
	}
	return "", false
}

func looksBech32(lower string) bool {
	return strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1")
}

func bech32Address(lower, prefix, network string) (string, bool) {
	data := lower[len(prefix):]
	if len(lower) < 14 || len(lower) > 90 || !isBech32Data(data) {
		return "", false
	}
	return network, true
}

func isNodePubkey(s string) bool {
	id := nodeID(s)
	if len(id) != 66 || (id[:2] != "02" && id[:2] != "03") {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// nodeID strips an optional @host:port suffix.
func nodeID(s string) string {
	id, _, _ := strings.Cut(s, "@")
	return id
}

func isLightningAddress(s string) bool {
	user, domain, ok := strings.Cut(s, "@")
	if !ok || user == "" || !strings.Contains(domain, ".") || strings.ContainsAny(domain, "/: ") {
		return false
	}
	return !strings.ContainsAny(user, " /:")
}
