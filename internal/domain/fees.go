package domain

import "math"

// DefaultFeeBps is the conservative taker fee assumed when the market
// doesn't report one. Most Polymarket markets charge zero today; the
// simulator prices the worst case.
const DefaultFeeBps = 200.0

// FeeUSDC calcula la comisión de una operación.
//
// Fórmula del CLOB: fee = bps/10000 × p × (1−p) × shares
// La curva es simétrica: máxima en p=0.5, cero en los extremos.
func FeeUSDC(feeBps, price, shares float64) float64 {
	if feeBps <= 0 || shares <= 0 {
		return 0
	}
	p := clamp01(price)
	return feeBps / 10000.0 * p * (1 - p) * shares
}

// ExpiryDecay devuelve el multiplicador de fricción cerca de la resolución.
//
// Fórmula: 1 + 2·e^(−min/2), con min = minutos hasta resolución.
// A 0 min vale 3×; a 5 min ya casi 1×. Con minutos negativos (mercado
// vencido) devuelve el máximo.
func ExpiryDecay(minutesToExpiry float64) float64 {
	if minutesToExpiry < 0 {
		minutesToExpiry = 0
	}
	return 1 + 2*math.Exp(-minutesToExpiry/2)
}
