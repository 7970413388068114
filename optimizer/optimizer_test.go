package optimizer

import (
	"math"
	"testing"

	"github.com/audioforge/denoise/numeric"
)

func quadraticParam(x float32) *Parameter {
	return &Parameter{Name: "w", Data: []float32{x}, Grad: []float32{0}}
}

// descend minimizes f(x) = x^2 with analytic gradient 2x.
func descend(t *testing.T, opt Optimizer, p *Parameter, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		p.Grad[0] = 2 * p.Data[0]
		if err := opt.Step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}
}

func TestAdamWConvergesOnQuadratic(t *testing.T) {
	p := quadraticParam(5)
	opt, err := NewAdamW(AdamWConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	descend(t, opt, p, 200)
	if math.Abs(float64(p.Data[0])) > 0.5 {
		t.Errorf("expected convergence toward 0, got %g", p.Data[0])
	}
	if opt.GetStepCount() != 200 {
		t.Errorf("expected 200 steps, got %d", opt.GetStepCount())
	}
}

func TestSGDStep(t *testing.T) {
	p := quadraticParam(1)
	opt, err := NewSGD(SGDConfig{LearningRate: 0.5}, []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	p.Grad[0] = 2 // f'(1) = 2
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	if got := p.Data[0]; got != 0 {
		t.Errorf("plain SGD: expected 1 - 0.5*2 = 0, got %g", got)
	}
}

func TestSGDNesterovRequiresMomentum(t *testing.T) {
	_, err := NewSGD(SGDConfig{LearningRate: 0.1, Nesterov: true}, []*Parameter{quadraticParam(1)})
	if err == nil {
		t.Error("nesterov without momentum must be rejected")
	}
}

func TestRMSPropConvergesOnQuadratic(t *testing.T) {
	p := quadraticParam(3)
	opt, err := NewRMSProp(DefaultRMSPropConfig(), []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	descend(t, opt, p, 300)
	if math.Abs(float64(p.Data[0])) > 0.5 {
		t.Errorf("expected convergence toward 0, got %g", p.Data[0])
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	build := func() (*AdamW, *Parameter) {
		p := quadraticParam(5)
		opt, err := NewAdamW(AdamWConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, []*Parameter{p})
		if err != nil {
			t.Fatal(err)
		}
		return opt, p
	}

	opt1, p1 := build()
	descend(t, opt1, p1, 10)
	state, err := opt1.GetState()
	if err != nil {
		t.Fatal(err)
	}

	opt2, p2 := build()
	descend(t, opt2, p2, 10)
	if err := opt2.LoadState(state); err != nil {
		t.Fatal(err)
	}
	if opt2.GetStepCount() != opt1.GetStepCount() {
		t.Errorf("step count not restored: %d vs %d", opt2.GetStepCount(), opt1.GetStepCount())
	}

	// Both optimizers continue identically from the restored state.
	p2.Data[0] = p1.Data[0]
	descend(t, opt1, p1, 5)
	descend(t, opt2, p2, 5)
	if p1.Data[0] != p2.Data[0] {
		t.Errorf("diverged after restore: %g vs %g", p1.Data[0], p2.Data[0])
	}
}

func TestLoadStateTypeMismatch(t *testing.T) {
	p := quadraticParam(1)
	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1}, []*Parameter{p})
	if err != nil {
		t.Fatal(err)
	}
	state, err := sgd.GetState()
	if err != nil {
		t.Fatal(err)
	}

	adam, err := NewAdamW(DefaultAdamWConfig(), []*Parameter{quadraticParam(1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := adam.LoadState(state); err == nil {
		t.Error("loading SGD state into AdamW must fail")
	}
}

func TestLoadStateShapeMismatch(t *testing.T) {
	big := &Parameter{Name: "w", Data: make([]float32, 4), Grad: make([]float32, 4)}
	opt1, err := NewAdamW(DefaultAdamWConfig(), []*Parameter{big})
	if err != nil {
		t.Fatal(err)
	}
	state, err := opt1.GetState()
	if err != nil {
		t.Fatal(err)
	}

	opt2, err := NewAdamW(DefaultAdamWConfig(), []*Parameter{quadraticParam(0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := opt2.LoadState(state); err == nil {
		t.Error("shape mismatch must be reported")
	}
}

func TestClipGradNorm(t *testing.T) {
	p := &Parameter{Name: "w", Data: []float32{0, 0}, Grad: []float32{3, 4}}
	norm, err := ClipGradNorm([]*Parameter{p}, 1.0, true)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm-5.0) > 1e-6 {
		t.Errorf("expected pre-clip norm 5, got %g", norm)
	}
	clipped := GradNorm([]*Parameter{p})
	if clipped > 1.0+1e-4 {
		t.Errorf("expected clipped norm <= 1, got %g", clipped)
	}
}

func TestClipGradNormNonFinite(t *testing.T) {
	p := &Parameter{Name: "w", Data: []float32{0}, Grad: []float32{float32(math.NaN())}}
	_, err := ClipGradNorm([]*Parameter{p}, 1.0, true)
	nf, ok := err.(*numeric.NonFiniteError)
	if !ok {
		t.Fatalf("expected *numeric.NonFiniteError, got %v", err)
	}
	if nf.Stage != numeric.StageGradient {
		t.Errorf("expected gradient stage, got %v", nf.Stage)
	}

	// Without the flag the gradients pass through unclipped.
	if _, err := ClipGradNorm([]*Parameter{p}, 1.0, false); err != nil {
		t.Errorf("expected nil error without the flag, got %v", err)
	}
}
