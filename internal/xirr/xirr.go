// Package xirr finds the annualized internal rate of return of an
// irregular cashflow series by locating the root of its net present
// value.
package xirr

import (
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"tokenfolio/internal/domain"
)

// Solver constants. The solver is a best-effort local Newton-Raphson:
// no bracketing or multi-start fallback is attempted when it diverges,
// so a degenerate series reports no solution instead of a rate found
// by a different method (which would change reported values).
const (
	// InitialGuess is the starting rate, 20% annualized.
	InitialGuess = 0.2

	// MaxIterations bounds the Newton-Raphson loop.
	MaxIterations = 100

	// ConvergenceTol is the successive-rate delta below which the
	// iteration is considered converged.
	ConvergenceTol = 1e-7

	// DerivativeStep is the forward-difference step for the numerical
	// derivative.
	DerivativeStep = 1e-6

	// MinDerivative is the derivative magnitude below which the
	// iteration aborts to avoid division blow-up.
	MinDerivative = 1e-12

	// DaysPerYear uses the mean Gregorian year for leap-year-correct
	// annualization.
	DaysPerYear = 365.2425
)

// ErrNoSolution is returned when the iteration exhausts its budget,
// hits a degenerate derivative, or lands on a non-finite rate.
var ErrNoSolution = errors.New("xirr: no solution")

// point is one dated amount converted to decimal value and year offset.
type point struct {
	years  float64
	amount float64
}

// Solve appends a terminal cashflow {valuationDate, +valuationAmount}
// to the series (the living portfolio value treated as a liquidation)
// and solves for the annualized rate that zeroes NPV. Amounts are base
// units scaled by 10^-exponent.
//
// A solution is only attempted when the combined series has at least
// one strictly negative and one strictly positive entry; otherwise the
// rate is 0 by convention, not an error.
func Solve(flows []domain.CashflowEntry, valuationDate time.Time, valuationAmount *big.Int, exponent int32) (float64, error) {
	points := make([]point, 0, len(flows)+1)

	var t0 time.Time
	if len(flows) > 0 {
		t0 = flows[0].Date
	} else {
		t0 = valuationDate
	}

	hasNeg, hasPos := false, false
	for _, f := range flows {
		amount := toFloat(f.Amount, exponent)
		if amount < 0 {
			hasNeg = true
		}
		if amount > 0 {
			hasPos = true
		}
		points = append(points, point{years: yearsBetween(t0, f.Date), amount: amount})
	}

	terminal := toFloat(valuationAmount, exponent)
	if terminal < 0 {
		hasNeg = true
	}
	if terminal > 0 {
		hasPos = true
	}
	points = append(points, point{years: yearsBetween(t0, valuationDate), amount: terminal})

	if !hasNeg || !hasPos {
		return 0, nil
	}

	return newton(points)
}

// newton runs the Newton-Raphson iteration with a forward-difference
// derivative estimate.
func newton(points []point) (float64, error) {
	rate := InitialGuess

	for i := 0; i < MaxIterations; i++ {
		value := npv(points, rate)
		deriv := (npv(points, rate+DerivativeStep) - value) / DerivativeStep

		if math.IsNaN(deriv) || math.IsInf(deriv, 0) || math.Abs(deriv) < MinDerivative {
			return 0, ErrNoSolution
		}

		next := rate - value/deriv
		if math.Abs(next-rate) < ConvergenceTol {
			if math.IsNaN(next) || math.IsInf(next, 0) {
				return 0, ErrNoSolution
			}
			return next, nil
		}
		rate = next
	}

	return 0, ErrNoSolution
}

// npv discounts every point to t0 at the candidate rate.
func npv(points []point, rate float64) float64 {
	var sum float64
	for _, p := range points {
		sum += p.amount / math.Pow(1+rate, p.years)
	}
	return sum
}

// yearsBetween returns the fractional mean-Gregorian years from t0 to t.
func yearsBetween(t0, t time.Time) float64 {
	return t.Sub(t0).Hours() / 24 / DaysPerYear
}

// toFloat converts signed base units to a decimal value at double
// precision without truncating the integer first.
func toFloat(baseUnits *big.Int, exponent int32) float64 {
	if baseUnits == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(baseUnits, -exponent).Float64()
	return f
}
