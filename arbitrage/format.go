package arbitrage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals 价格显示精度：XRP 六位，其余两位。
func PriceDecimals(symbol string) int32 {
	if strings.HasPrefix(strings.ToUpper(symbol), "XRP") {
		return 6
	}
	return 2
}

// USDDecimals 美元金额显示精度。
func USDDecimals(symbol string) int32 {
	if strings.HasPrefix(strings.ToUpper(symbol), "XRP") {
		return 4
	}
	return 2
}

// notANumber 非有限值的显示文本；decimal 遇到 NaN/Inf 会 panic。
const notANumber = "n/a"

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// FormatPrice 按 symbol 精度格式化价格。
func FormatPrice(symbol string, px float64) string {
	if !finite(px) {
		return notANumber
	}
	return decimal.NewFromFloat(px).StringFixed(PriceDecimals(symbol))
}

// FormatUSD 形如 $1,234.56，负数为 -$1.23。
func FormatUSD(symbol string, v float64) string {
	if !finite(v) {
		return notANumber
	}
	s := decimal.NewFromFloat(v).Abs().StringFixed(USDDecimals(symbol))
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	sign := ""
	if v < 0 && strings.Trim(s, "0.") != "" {
		sign = "-"
	}
	return sign + "$" + b.String() + frac
}

// FormatPct 两位小数百分比，不带 % 符号。
func FormatPct(v float64) string {
	if !finite(v) {
		return notANumber
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// TopByGross 按 GrossPct 降序取前 n 条，n<=0 表示全部。
func TopByGross(results []Result, n int) []Result {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].GrossPct > sorted[j].GrossPct })
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Summary 文本摘要，每个 symbol 一行。
func Summary(results []Result, topN int) string {
	if len(results) == 0 {
		return "No reliable spreads."
	}
	lines := make([]string, 0, len(results))
	for _, r := range TopByGross(results, topN) {
		lines = append(lines, fmt.Sprintf("%s: %s%% (buy %s @ %s → sell %s @ %s)",
			r.Symbol, FormatPct(r.GrossPct),
			r.Buy.Venue, FormatPrice(r.Symbol, r.Buy.Price),
			r.Sell.Venue, FormatPrice(r.Symbol, r.Sell.Price)))
	}
	return strings.Join(lines, "\n")
}
