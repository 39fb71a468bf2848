package likelihood

import (
	"math"

	"sigfit/domain/model"
)

// response is the multiplicative factor of one OverallSys as a function of its
// nuisance parameter: 1 at θ=0, High at θ=+1 and Low at θ=-1.
type response struct {
	code   model.InterpCode
	lo, hi float64
	// polyexp coefficients a1..a6
	poly [6]float64
}

func newResponse(code model.InterpCode, lo, hi float64) response {
	r := response{code: code, lo: lo, hi: hi}
	if code == model.InterpPolyExp {
		r.poly = polyExpCoefficients(lo, hi)
	}
	return r
}

// factor evaluates the response at theta.
func (r response) factor(theta float64) float64 {
	switch r.code {
	case model.InterpLinear:
		if theta >= 0 {
			return 1 + theta*(r.hi-1)
		}
		return 1 + theta*(1-r.lo)
	case model.InterpPolyExp:
		if math.Abs(theta) < 1 {
			// Horner on 1 + a1 θ + ... + a6 θ^6
			v := r.poly[5]
			for i := 4; i >= 0; i-- {
				v = v*theta + r.poly[i]
			}
			return 1 + v*theta
		}
		return r.exponential(theta)
	default:
		return r.exponential(theta)
	}
}

func (r response) exponential(theta float64) float64 {
	if theta >= 0 {
		return math.Pow(r.hi, theta)
	}
	return math.Pow(r.lo, -theta)
}

// polyExpCoefficients matches value, first and second derivative of the
// exponential extrapolation at θ=±1 with a sixth-order polynomial through 1 at θ=0.
func polyExpCoefficients(lo, hi float64) [6]float64 {
	logHi, logLo := math.Log(hi), math.Log(lo)

	powUp, powDown := hi, lo
	powUpLog, powDownLog := hi*logHi, -lo*logLo
	powUpLog2, powDownLog2 := powUpLog*logHi, -powDownLog*logLo

	s0, a0 := (powUp+powDown)/2, (powUp-powDown)/2
	s1, a1 := (powUpLog+powDownLog)/2, (powUpLog-powDownLog)/2
	s2, a2 := (powUpLog2+powDownLog2)/2, (powUpLog2-powDownLog2)/2

	return [6]float64{
		(15*a0 - 7*s1 + a2) / 8,
		(-24 + 24*s0 - 9*a1 + s2) / 8,
		(-5*a0 + 5*s1 - a2) / 4,
		(12 - 12*s0 + 7*a1 - s2) / 4,
		(3*a0 - 3*s1 + a2) / 8,
		(-8 + 8*s0 - 5*a1 + s2) / 8,
	}
}
