package expr

import (
	"math"
	"math/big"
	"strconv"

	"github.com/sbl8/tensorc/core"
)

// Literal is an exact rational or a floating value. Arithmetic between two
// rationals stays rational; any mix with a float promotes to float.
type Literal struct {
	rat *big.Rat
	f   float64
}

// Int returns the rational literal n.
func Int(n int64) Literal { return Literal{rat: new(big.Rat).SetInt64(n)} }

// Rational returns the rational literal p/q. A zero denominator is fatal.
func Rational(p, q int64) Literal {
	core.Assertf(q != 0, "rational literal %d/0", p)
	return Literal{rat: new(big.Rat).SetFrac64(p, q)}
}

// RatLiteral wraps a big.Rat (copied).
func RatLiteral(r *big.Rat) Literal { return Literal{rat: new(big.Rat).Set(r)} }

// Float returns a floating literal.
func Float(f float64) Literal { return Literal{f: f} }

// IsFloat reports whether the literal is floating.
func (l Literal) IsFloat() bool { return l.rat == nil }

// Rat returns a copy of the rational value; ok is false for floats.
func (l Literal) Rat() (r *big.Rat, ok bool) {
	if l.rat == nil {
		return nil, false
	}
	return new(big.Rat).Set(l.rat), true
}

// Float64 returns the value as float64.
func (l Literal) Float64() float64 {
	if l.rat == nil {
		return l.f
	}
	f, _ := l.rat.Float64()
	return f
}

// IsZero reports whether the literal equals zero.
func (l Literal) IsZero() bool {
	if l.rat == nil {
		return l.f == 0
	}
	return l.rat.Sign() == 0
}

// IsOne reports whether the literal equals one.
func (l Literal) IsOne() bool {
	if l.rat == nil {
		return l.f == 1
	}
	return l.rat.IsInt() && l.rat.Num().IsInt64() && l.rat.Num().Int64() == 1
}

// IsInteger reports whether the literal is an exact integer.
func (l Literal) IsInteger() bool { return l.rat != nil && l.rat.IsInt() }

// Equal compares values; a rational never equals a float.
func (l Literal) Equal(o Literal) bool {
	if l.IsFloat() != o.IsFloat() {
		return false
	}
	if l.rat == nil {
		return l.f == o.f || (math.IsNaN(l.f) && math.IsNaN(o.f))
	}
	return l.rat.Cmp(o.rat) == 0
}

// Add returns l+o.
func (l Literal) Add(o Literal) Literal {
	if l.rat != nil && o.rat != nil {
		return Literal{rat: new(big.Rat).Add(l.rat, o.rat)}
	}
	return Float(l.Float64() + o.Float64())
}

// Sub returns l-o.
func (l Literal) Sub(o Literal) Literal {
	if l.rat != nil && o.rat != nil {
		return Literal{rat: new(big.Rat).Sub(l.rat, o.rat)}
	}
	return Float(l.Float64() - o.Float64())
}

// Mul returns l*o.
func (l Literal) Mul(o Literal) Literal {
	if l.rat != nil && o.rat != nil {
		return Literal{rat: new(big.Rat).Mul(l.rat, o.rat)}
	}
	return Float(l.Float64() * o.Float64())
}

// Div returns l/o. Division by an exact zero is fatal.
func (l Literal) Div(o Literal) Literal {
	core.Assertf(!o.IsZero(), "division of literal %s by zero", l)
	if l.rat != nil && o.rat != nil {
		return Literal{rat: new(big.Rat).Quo(l.rat, o.rat)}
	}
	return Float(l.Float64() / o.Float64())
}

// Neg returns -l.
func (l Literal) Neg() Literal {
	if l.rat != nil {
		return Literal{rat: new(big.Rat).Neg(l.rat)}
	}
	return Float(-l.f)
}

// maxExactExponent bounds the integer powers folded exactly. Larger
// exponents fold to a float.
const maxExactExponent = 64

// Pow raises l to o. An integer exponent up to maxExactExponent in magnitude
// on a rational base stays exact.
func (l Literal) Pow(o Literal) Literal {
	if l.rat != nil && o.IsInteger() && o.rat.Num().IsInt64() {
		k := o.rat.Num().Int64()
		if k < 0 {
			core.Assertf(l.rat.Sign() != 0, "zero raised to negative power %d", k)
		}
		if k >= -maxExactExponent && k <= maxExactExponent {
			num, den := new(big.Int).Set(l.rat.Num()), new(big.Int).Set(l.rat.Denom())
			if k < 0 {
				num, den = den, num
				k = -k
			}
			e := big.NewInt(k)
			num.Exp(num, e, nil)
			den.Exp(den, e, nil)
			return Literal{rat: new(big.Rat).SetFrac(num, den)}
		}
	}
	return Float(math.Pow(l.Float64(), o.Float64()))
}

func (l Literal) String() string {
	if l.rat == nil {
		return strconv.FormatFloat(l.f, 'g', -1, 64)
	}
	if l.rat.IsInt() {
		return l.rat.Num().String()
	}
	return l.rat.RatString()
}
