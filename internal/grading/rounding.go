package grading

import (
	"math"
	"math/big"
	"strconv"
)

// DefaultAccuracy is the number of decimals used when a course does not configure one.
const DefaultAccuracy = 1

// RoundScore rounds v half-up (away from zero) to accuracy decimals.
// v is taken at its shortest decimal representation, so 2.675 rounds to 2.68
// even though its binary value is slightly below.
func RoundScore(v float64, accuracy int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	if accuracy < 0 {
		accuracy = 0
	}

	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'f', -1, 64))
	if !ok {
		return v
	}
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(accuracy)), nil))

	neg := r.Sign() < 0
	r.Abs(r)
	r.Mul(r, scale)
	r.Add(r, big.NewRat(1, 2))

	// truncate
	q := new(big.Int).Quo(r.Num(), r.Denom())
	if neg {
		q.Neg(q)
	}

	out, _ := new(big.Rat).Quo(new(big.Rat).SetInt(q), scale).Float64()
	return out
}
