package geo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// EPSILONTiny is the minimum |w| a homography's projective divisor may
// have before a projection is rejected as ill-conditioned.
const EPSILONTiny = 1e-10

// Homography is a 3x3 single-precision perspective transform from pixel
// coordinates to Web Mercator meters, fit from four point correspondences.
type Homography struct {
	// H is stored row-major; H[2][2] is conventionally normalized to 1
	// but is not assumed to be by Apply.
	H [3][3]float32
}

// ErrSingularCorrespondence is returned by NewHomography when the four
// correspondences do not determine a unique homography.
var ErrSingularCorrespondence = fmt.Errorf("geo: correspondences do not determine a unique homography")

// ErrHomographyIllConditioned is returned by Apply when the projective
// divisor is too close to zero to trust.
var ErrHomographyIllConditioned = fmt.Errorf("geo: homography projection ill-conditioned")

// NewHomography fits a perspective transform from four pixel points to
// four destination points (typically Web Mercator meters) via the
// direct linear transform.
func NewHomography(src, dst [4]Pt) (*Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		X, Y := dst[i].X, dst[i].Y

		r0 := 2 * i
		r1 := 2*i + 1

		a.SetRow(r0, []float64{x, y, 1, 0, 0, 0, -X * x, -X * y})
		a.SetRow(r1, []float64{0, 0, 0, x, y, 1, -Y * x, -Y * y})
		b.SetVec(r0, X)
		b.SetVec(r1, Y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, ErrSingularCorrespondence
	}

	var out Homography
	out.H[0][0] = float32(h.AtVec(0))
	out.H[0][1] = float32(h.AtVec(1))
	out.H[0][2] = float32(h.AtVec(2))
	out.H[1][0] = float32(h.AtVec(3))
	out.H[1][1] = float32(h.AtVec(4))
	out.H[1][2] = float32(h.AtVec(5))
	out.H[2][0] = float32(h.AtVec(6))
	out.H[2][1] = float32(h.AtVec(7))
	out.H[2][2] = 1

	for i := range out.H {
		for j := range out.H[i] {
			if f := out.H[i][j]; f != f { // NaN
				return nil, ErrSingularCorrespondence
			}
		}
	}

	return &out, nil
}

// Apply projects a pixel point through the homography, returning the
// destination-frame coordinate.
func (h *Homography) Apply(p Pt) (Pt, error) {
	x, y := float32(p.X), float32(p.Y)
	X := h.H[0][0]*x + h.H[0][1]*y + h.H[0][2]
	Y := h.H[1][0]*x + h.H[1][1]*y + h.H[1][2]
	w := h.H[2][0]*x + h.H[2][1]*y + h.H[2][2]

	if abs32(w) < EPSILONTiny {
		return Pt{}, ErrHomographyIllConditioned
	}

	return Pt{X: float64(X / w), Y: float64(Y / w)}, nil
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
