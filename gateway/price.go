package gateway

import "math"

// ValidPrice 报价必须是有限正数；NaN、±Inf 以及 <=0 都视为无报价。
func ValidPrice(px float64) bool {
	return px > 0 && !math.IsInf(px, 0)
}
