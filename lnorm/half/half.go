// Copyright 2026 go-layernorm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package half provides the IEEE 754 binary16 storage type the half-precision
// kernel variants read and write. Arithmetic never happens in binary16:
// values are promoted to float32 on load and demoted on store, two adjacent
// elements at a time on the packed path (see Packed).
package half

import (
	stdmath "math"
	"math/bits"
)

// Float16 is an IEEE 754 half-precision (binary16) value stored as raw bits.
//
// Format: 1 sign bit | 5 exponent bits (bias 15) | 10 mantissa bits.
// Range: max finite 65504, smallest normal 2^-14, smallest denormal 2^-24,
// ~3.3 decimal digits of precision.
type Float16 uint16

// Special values.
const (
	Zero        Float16 = 0x0000
	NegZero     Float16 = 0x8000
	One         Float16 = 0x3C00
	NegOne      Float16 = 0xBC00
	MaxFinite   Float16 = 0x7BFF // 65504
	MinNormal   Float16 = 0x0400 // 2^-14
	MinDenormal Float16 = 0x0001 // 2^-24
	PosInf      Float16 = 0x7C00
	NegInf      Float16 = 0xFC00
	QuietNaN    Float16 = 0x7E00
)

// Float32 widens h to float32. All classes convert exactly: zeros keep their
// sign, subnormals are renormalized, NaN payloads are preserved (shifted).
func (h Float16) Float32() float32 {
	b := uint32(h)
	sign := (b & 0x8000) << 16
	exp := (b >> 10) & 0x1F
	mant := b & 0x3FF

	switch {
	case exp == 0x1F: // Inf or NaN
		if mant == 0 {
			return stdmath.Float32frombits(sign | 0x7F800000)
		}
		return stdmath.Float32frombits(sign | 0x7FC00000 | mant<<13)
	case exp != 0: // normal, rebias 15 -> 127
		return stdmath.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	case mant == 0:
		return stdmath.Float32frombits(sign) // signed zero
	default:
		// Subnormal: shift the leading mantissa bit into the implicit-one
		// position and rebias accordingly.
		shift := uint32(11 - bits.Len32(mant))
		mant = (mant << shift) & 0x3FF
		return stdmath.Float32frombits(sign | (113-shift)<<23 | mant<<13)
	}
}

// FromFloat32 narrows f to Float16 with round-to-nearest-even. Overflow
// produces an infinity, underflow below 2^-24 a signed zero.
func FromFloat32(f float32) Float16 {
	b := stdmath.Float32bits(f)
	sign := uint16((b >> 16) & 0x8000)
	exp := int((b>>23)&0xFF) - 112 // rebias 127 -> 15
	mant := b & 0x7FFFFF

	switch {
	case exp == 143: // source Inf or NaN
		if mant != 0 {
			return Float16(sign) | QuietNaN | Float16(mant>>13)
		}
		return Float16(sign) | PosInf
	case exp >= 31:
		return Float16(sign) | PosInf
	case exp <= 0:
		if exp < -10 {
			return Float16(sign)
		}
		// Subnormal result: make the implicit one explicit, shift into
		// place, then round. Bit 12 is the round bit; rounding up requires
		// the result to be odd or a sticky bit below the round bit.
		mant = (mant | 0x800000) >> uint(1-exp)
		if mant&0x1000 != 0 && mant&0x2FFF != 0 {
			mant += 0x2000
		}
		return Float16(sign | uint16(mant>>13))
	}

	if mant&0x1000 != 0 && mant&0x2FFF != 0 {
		mant += 0x2000
		if mant&0x800000 != 0 { // mantissa carry into the exponent
			mant = 0
			exp++
			if exp >= 31 {
				return Float16(sign) | PosInf
			}
		}
	}
	return Float16(sign | uint16(exp)<<10 | uint16(mant>>13))
}

// FromFloat64 narrows through float32.
func FromFloat64(f float64) Float16 {
	return FromFloat32(float32(f))
}

// Bits returns the raw bit pattern.
func (h Float16) Bits() uint16 { return uint16(h) }

// IsNaN reports whether h is any NaN encoding.
func (h Float16) IsNaN() bool {
	return h&0x7C00 == 0x7C00 && h&0x3FF != 0
}

// IsInf reports whether h is positive or negative infinity.
func (h Float16) IsInf() bool {
	return h&0x7FFF == 0x7C00
}

// LoadPair widens the adjacent pair src[i], src[i+1] in one step. This is
// the software shape of a packed two-element load: the half-precision
// reducers consume rows in aligned pairs and fold both widened values into
// the same lane.
func LoadPair(src []Float16, i int) (float32, float32) {
	return src[i].Float32(), src[i+1].Float32()
}

// Promote widens src into dst, element by element. dst and src must have
// the same length.
func Promote(dst []float32, src []Float16) {
	for i, h := range src {
		dst[i] = h.Float32()
	}
}

// Demote narrows src into dst with round-to-nearest-even. dst and src must
// have the same length.
func Demote(dst []Float16, src []float32) {
	for i, f := range src {
		dst[i] = FromFloat32(f)
	}
}
