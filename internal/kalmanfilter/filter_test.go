package kalmanfilter

import "testing"

func TestPredictUpdateConvergesTowardMeasurement(t *testing.T) {
	f := NewFilter(0, 0, 1.0, 0.5)

	for i := 1; i <= 5; i++ {
		f.Predict()
		if err := f.Update(float64(i), float64(i)); err != nil {
			t.Fatalf("Update(%d): %v", i, err)
		}
	}

	x, y := f.Position()
	if x < 0 || x > 6 || y < 0 || y > 6 {
		t.Fatalf("Position() = (%v, %v), expected to track near the measurement sequence", x, y)
	}
}

// Smoothing a noisy monotone sequence must stay monotone and close to it.
func TestKalmanSmoothingSequence(t *testing.T) {
	seq := [][2]float64{
		{0, 0}, {1, 1}, {2, 2}, {4, 4}, {6, 6}, {9, 9}, {11, 11}, {16, 16}, {20, 20},
	}

	f := NewFilter(seq[0][0], seq[0][1], 1.0, 1.0)

	var lastX, lastY float64
	for i, p := range seq {
		f.Predict()
		if err := f.Update(p[0], p[1]); err != nil {
			t.Fatalf("Update(step %d): %v", i, err)
		}
		x, y := f.Position()

		if i >= 3 {
			if x < lastX-1e-9 || y < lastY-1e-9 {
				t.Errorf("step %d: position went backward (%v,%v) -> (%v,%v)", i, lastX, lastY, x, y)
			}
			if diff := x - p[0]; diff > 2 || diff < -2 {
				t.Errorf("step %d: x=%v strays more than 2 from raw input %v", i, x, p[0])
			}
			if diff := y - p[1]; diff > 2 || diff < -2 {
				t.Errorf("step %d: y=%v strays more than 2 from raw input %v", i, y, p[1])
			}
		}
		lastX, lastY = x, y
	}
}

func TestUpdateSingularInnovation(t *testing.T) {
	f := NewFilter(0, 0, 1.0, 0.1)
	f.SetMeasurementNoise(0)
	f.ZeroCovariance()

	if err := f.Update(1, 1); err != ErrSingularInnovation {
		t.Fatalf("Update with zero P and zero R: got %v, want ErrSingularInnovation", err)
	}
}

func TestSetDtRefreshesMatrices(t *testing.T) {
	f := NewFilter(0, 0, 1.0, 1.0)
	f.SetDt(2.0)
	if f.dt != 2.0 {
		t.Fatalf("dt = %v, want 2.0", f.dt)
	}
	if f.a.At(0, 1) != 2.0 {
		t.Fatalf("A[0][1] = %v, want dt=2.0", f.a.At(0, 1))
	}
}

func TestSetInitialZeroesDerivatives(t *testing.T) {
	f := NewFilter(0, 0, 1.0, 1.0)
	f.Predict()
	_ = f.Update(5, 5)
	f.SetInitial(10, 20)

	x, y := f.Position()
	if x != 10 || y != 20 {
		t.Fatalf("Position() = (%v,%v), want (10,20)", x, y)
	}
	if f.x.AtVec(1) != 0 || f.x.AtVec(2) != 0 || f.x.AtVec(4) != 0 || f.x.AtVec(5) != 0 {
		t.Fatal("SetInitial must zero velocity and acceleration terms")
	}
}
