package gateway

import (
	"fmt"
	"strings"
)

// SplitSymbol 把 "BTC-USD" 拆成 base/quote。
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q is not BASE-QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// binanceSymbol BTC-USD -> BTCUSDT；USD 与 USDT 视为等价（已知近似）。
func binanceSymbol(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return base + quote, nil
}

var krakenAssets = map[string]string{
	"BTC": "XXBT",
	"ETH": "XETH",
	"LTC": "XLTC",
	"XLM": "XXLM",
	"USD": "ZUSD",
	"EUR": "ZEUR",
	"GBP": "ZGBP",
}

// krakenPair BTC-USD -> XXBTZUSD。只有 base、quote 都是 Kraken 的老资产时才用 X/Z 前缀，
// 其余直接拼接，例如 XRP-USD -> XRPUSD。
func krakenPair(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	kb, okb := krakenAssets[base]
	kq, okq := krakenAssets[quote]
	if okb && okq {
		return kb + kq, nil
	}
	if base == "BTC" {
		base = "XBT"
	}
	if base == "DOGE" {
		base = "XDG"
	}
	return base + quote, nil
}

// bitstampPair BTC-USD -> btcusd
func bitstampPair(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return strings.ToLower(base + quote), nil
}

// bitfinexSymbol BTC-USD -> tBTCUSD；较长的 base 用冒号分隔，例如 tDOGE:USD。
func bitfinexSymbol(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if len(base) > 3 || len(quote) > 3 {
		return "t" + base + ":" + quote, nil
	}
	return "t" + base + quote, nil
}

var coingeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"XRP":  "ripple",
	"SOL":  "solana",
	"LTC":  "litecoin",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
}
