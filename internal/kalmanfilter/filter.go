// Package kalmanfilter implements the linear constant-acceleration
// Kalman filter the tracking core smooths object centroids with.
// State is the 6-vector (x, vx, ax, y, vy, ay); the two
// axes share the same block-diagonal transition and process-noise
// structure.
package kalmanfilter

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// EPSILONTiny mirrors geo.EPSILONTiny: the minimum |determinant| the
// innovation covariance may have before Update fails.
const EPSILONTiny = 1e-10

// ErrSingularInnovation is returned by Update when the innovation
// covariance S is not invertible.
var ErrSingularInnovation = errors.New("kalmanfilter: singular innovation covariance")

// Filter is a 6-state constant-acceleration Kalman filter over a 2D
// position measurement.
type Filter struct {
	x *mat.VecDense // 6x1: xp, vx, ax, yp, vy, ay
	P *mat.Dense    // 6x6 state covariance

	dt          float64
	noiseFactor float64
	measNoise   float64 // diagonal of R

	a *mat.Dense // 6x6 transition, function of dt
	q *mat.Dense // 6x6 process covariance, function of dt
	c *mat.Dense // 2x6 measurement matrix
}

// NewFilter creates a filter initialized at the given position with
// zero velocity and acceleration, identity covariance, and the given
// process-noise scale factor.
func NewFilter(x0, y0, dt, noiseFactor float64) *Filter {
	f := &Filter{
		x:           mat.NewVecDense(6, []float64{x0, 0, 0, y0, 0, 0}),
		P:           identity(6),
		dt:          dt,
		noiseFactor: noiseFactor,
		measNoise:   1.0,
		c:           measurementMatrix(),
	}
	f.refresh()
	return f
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func measurementMatrix() *mat.Dense {
	c := mat.NewDense(2, 6, nil)
	c.Set(0, 0, 1) // selects xp
	c.Set(1, 3, 1) // selects yp
	return c
}

// SetInitial resets position to (x, y) and zeros the velocity and
// acceleration terms, leaving covariance untouched.
func (f *Filter) SetInitial(x, y float64) {
	f.x.SetVec(0, x)
	f.x.SetVec(1, 0)
	f.x.SetVec(2, 0)
	f.x.SetVec(3, y)
	f.x.SetVec(4, 0)
	f.x.SetVec(5, 0)
}

// SetDt updates the filter's time step, refreshing A and Q.
func (f *Filter) SetDt(dt float64) {
	f.dt = dt
	f.refresh()
}

func (f *Filter) refresh() {
	f.a = transitionMatrix(f.dt)
	f.q = processCovariance(f.dt, f.noiseFactor)
}

// axisBlock3 returns a symmetric 3x3 per-axis block built from its six
// upper-triangle entries, mirrored below the diagonal.
func axisBlock3(b00, b01, b02, b11, b12, b22 float64) *mat.Dense {
	d := mat.NewDense(3, 3, nil)
	d.Set(0, 0, b00)
	d.Set(0, 1, b01)
	d.Set(0, 2, b02)
	d.Set(1, 0, b01)
	d.Set(1, 1, b11)
	d.Set(1, 2, b12)
	d.Set(2, 0, b02)
	d.Set(2, 1, b12)
	d.Set(2, 2, b22)
	return d
}

// transitionMatrix builds the block-diagonal A(dt): per axis
// [[1, dt, dt^2/2], [0, 1, dt], [0, 0, 1]].
func transitionMatrix(dt float64) *mat.Dense {
	a := mat.NewDense(6, 6, nil)
	block := [3][3]float64{
		{1, dt, dt * dt / 2},
		{0, 1, dt},
		{0, 0, 1},
	}
	for axis := 0; axis < 2; axis++ {
		off := axis * 3
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				a.Set(off+r, off+c, block[r][c])
			}
		}
	}
	return a
}

// processCovariance builds the block-diagonal Q(dt), the standard
// continuous-acceleration discretization, scaled by noiseFactor.
func processCovariance(dt, noiseFactor float64) *mat.Dense {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	dt5 := dt4 * dt
	dt6 := dt5 * dt

	block := axisBlock3(
		dt6/36, dt5/24, dt4/6,
		dt4/4, dt3/2,
		dt2,
	)
	block.Scale(noiseFactor, block)

	q := mat.NewDense(6, 6, nil)
	for axis := 0; axis < 2; axis++ {
		off := axis * 3
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				q.Set(off+r, off+c, block.At(r, c))
			}
		}
	}
	return q
}

// SetMeasurementNoise overrides R's diagonal (default 1, i.e. R = I2).
func (f *Filter) SetMeasurementNoise(r float64) {
	f.measNoise = r
}

// ZeroCovariance forces P to the zero matrix; used by tests to exercise
// the singular-innovation path deterministically.
func (f *Filter) ZeroCovariance() {
	f.P = mat.NewDense(6, 6, nil)
}

// Position returns the filter's current (x, y) estimate.
func (f *Filter) Position() (float64, float64) {
	return f.x.AtVec(0), f.x.AtVec(3)
}

// Predict advances the state one step: x <- A*x; P <- A*P*A' + Q. No
// control input exists in this system, so the B*u term is omitted
// entirely rather than modeled as zero.
func (f *Filter) Predict() {
	var xNext mat.VecDense
	xNext.MulVec(f.a, f.x)
	f.x = &xNext

	var ap, apat mat.Dense
	ap.Mul(f.a, f.P)
	apat.Mul(&ap, f.a.T())
	apat.Add(&apat, f.q)
	f.P = &apat
}

// Update fuses a position measurement z=(zx, zy) using the Joseph-form
// covariance update for numerical stability.
func (f *Filter) Update(zx, zy float64) error {
	z := mat.NewVecDense(2, []float64{zx, zy})

	var cx mat.VecDense
	cx.MulVec(f.c, f.x)

	var y mat.VecDense
	y.SubVec(z, &cx)

	r := identity(2)
	r.Scale(f.measNoise, r)

	var cp, cpct, s mat.Dense
	cp.Mul(f.c, f.P)
	cpct.Mul(&cp, f.c.T())
	s.Add(&cpct, r)

	det := mat.Det(&s)
	if det < EPSILONTiny && det > -EPSILONTiny {
		return ErrSingularInnovation
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return ErrSingularInnovation
	}

	var pct, k mat.Dense
	pct.Mul(f.P, f.c.T())
	k.Mul(&pct, &sInv)

	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var xNext mat.VecDense
	xNext.AddVec(f.x, &ky)
	f.x = &xNext

	// Joseph form: P <- (I-KC)P(I-KC)' + KRK'
	ikc := identity(6)
	var kc mat.Dense
	kc.Mul(&k, f.c)
	ikc.Sub(ikc, &kc)

	var ikcP, ikcPikcT mat.Dense
	ikcP.Mul(ikc, f.P)
	ikcPikcT.Mul(&ikcP, ikc.T())

	var kr, krkt mat.Dense
	kr.Mul(&k, r)
	krkt.Mul(&kr, k.T())

	ikcPikcT.Add(&ikcPikcT, &krkt)
	f.P = &ikcPikcT

	return nil
}
