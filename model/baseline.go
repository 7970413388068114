// Package model provides a compact baseline enhancement model and its
// paired criterion. The model estimates a per-band gain mask from the
// band-energy features, applies it to the noisy signal, and exposes a
// deep-filtering coefficient head and a per-frame log-SNR estimate. The
// gradients of the paired composite loss are computed analytically.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/optimizer"
	"github.com/audioforge/denoise/training"
)

// Baseline is a mask-based enhancement model with an encoder, a mask
// decoder (erb_dec), a deep-filtering coefficient head (df_dec) and a
// recurrent band state (dfrnn) carried across batches.
type Baseline struct {
	nbErb  int
	nbSpec int

	encW  *optimizer.Parameter // enc.weight
	encB  *optimizer.Parameter // enc.bias
	maskW *optimizer.Parameter // erb_dec.weight
	rnnW  *optimizer.Parameter // dfrnn.weight_hh
	dfW   *optimizer.Parameter // df_dec.weight

	hidden  []float32 // recurrent band state, committed by DetachHidden
	pending []float32

	training bool

	// forward cache consumed by Backward
	lastAct  [][]float32
	lastMask [][]float32
	lastHid  []float32
}

// NewBaseline creates a baseline model with deterministic, seeded
// initialization.
func NewBaseline(nbErb, nbSpec int, seed int64) *Baseline {
	rng := rand.New(rand.NewSource(seed))
	initParam := func(name string, n int, scale float64) *optimizer.Parameter {
		data := make([]float32, n)
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * scale)
		}
		return &optimizer.Parameter{Name: name, Data: data, Grad: make([]float32, n)}
	}
	return &Baseline{
		nbErb:  nbErb,
		nbSpec: nbSpec,
		encW:   initParam("enc.weight", nbErb, 0.1),
		encB:   initParam("enc.bias", nbErb, 0.01),
		maskW:  initParam("erb_dec.weight", nbErb, 0.1),
		rnnW:   initParam("dfrnn.weight_hh", nbErb, 0.1),
		dfW:    initParam("df_dec.weight", nbSpec, 0.1),
		hidden: make([]float32, nbErb),
	}
}

// NamedParameters enumerates all trainable parameters.
func (m *Baseline) NamedParameters() []*optimizer.Parameter {
	return []*optimizer.Parameter{m.encW, m.encB, m.maskW, m.rnnW, m.dfW}
}

// SetTraining toggles train/eval mode.
func (m *Baseline) SetTraining(train bool) { m.training = train }

// DetachHidden commits the pending recurrent state so that gradients do
// not flow across batch boundaries. Skipped steps leave the state as-is.
func (m *Baseline) DetachHidden() {
	if m.pending != nil {
		copy(m.hidden, m.pending)
		m.pending = nil
	}
}

// Summary describes the model's parameter layout for one-time logging.
func (m *Baseline) Summary() string {
	total := 0
	for _, p := range m.NamedParameters() {
		total += len(p.Data)
	}
	return fmt.Sprintf("Baseline(nb_erb=%d, nb_spec=%d, parameters=%d)", m.nbErb, m.nbSpec, total)
}

func sigmoid(x float64) float32 {
	return float32(1.0 / (1.0 + math.Exp(-x)))
}

// Forward runs the enhancement pass over one batch.
func (m *Baseline) Forward(b *dataset.Batch) (*training.Output, error) {
	n := b.Size()
	out := &training.Output{
		Enhanced: make([][]float32, n),
		Mask:     make([][]float32, n),
		LSNR:     make([][]float32, n),
		DfAlpha:  make([][]float32, n),
	}
	m.lastAct = make([][]float32, n)
	m.lastMask = make([][]float32, n)
	m.lastHid = append([]float32(nil), m.hidden...)

	dfAlpha := make([]float32, m.nbSpec)
	for j := 0; j < m.nbSpec; j++ {
		dfAlpha[j] = sigmoid(float64(m.dfW.Data[j]))
	}

	meanFeat := make([]float64, m.nbErb)
	for i := 0; i < n; i++ {
		if len(b.FeatErb[i]) < m.nbErb {
			return nil, fmt.Errorf("feature vector of item %d has %d bands, model expects %d",
				i, len(b.FeatErb[i]), m.nbErb)
		}
		noisy := b.Noisy[i]
		act := make([]float32, m.nbErb)
		mask := make([]float32, m.nbErb)
		lsnr := make([]float32, m.nbErb)
		enh := make([]float32, len(noisy))
		chunk := (len(noisy) + m.nbErb - 1) / m.nbErb
		for k := 0; k < m.nbErb; k++ {
			feat := float64(b.FeatErb[i][k])
			meanFeat[k] += feat / float64(n)
			a := float64(m.encW.Data[k])*feat + float64(m.encB.Data[k]) +
				float64(m.rnnW.Data[k])*float64(m.hidden[k])
			g := sigmoid(float64(m.maskW.Data[k]) * a)
			act[k] = float32(a)
			mask[k] = g

			lo := k * chunk
			hi := lo + chunk
			if lo >= len(noisy) {
				continue
			}
			if hi > len(noisy) {
				hi = len(noisy)
			}
			var pe, pr float64
			for t := lo; t < hi; t++ {
				enh[t] = noisy[t] * g
				pe += float64(enh[t]) * float64(enh[t])
				r := float64(noisy[t] - enh[t])
				pr += r * r
			}
			lsnr[k] = float32(10 * math.Log10((pe+1e-10)/(pr+1e-10)))
		}
		out.Enhanced[i] = enh
		out.Mask[i] = mask
		out.LSNR[i] = lsnr
		out.DfAlpha[i] = dfAlpha
		m.lastAct[i] = act
		m.lastMask[i] = mask
	}

	// Stage the recurrent state update; DetachHidden commits it.
	m.pending = make([]float32, m.nbErb)
	for k := 0; k < m.nbErb; k++ {
		m.pending[k] = float32(math.Tanh(float64(m.rnnW.Data[k])*meanFeat[k] + 0.5*float64(m.hidden[k])))
	}
	return out, nil
}

// Backward accumulates the gradients of the paired composite criterion
// (see Criterion) into the model's parameters.
func (m *Baseline) Backward(b *dataset.Batch, out *training.Output) error {
	n := b.Size()
	if len(m.lastMask) != n {
		return fmt.Errorf("backward called without a matching forward pass")
	}
	for i := 0; i < n; i++ {
		noisy := b.Noisy[i]
		clean := b.Speech[i]
		enh := out.Enhanced[i]
		samples := float64(len(noisy) * n)
		chunk := (len(noisy) + m.nbErb - 1) / m.nbErb
		for k := 0; k < m.nbErb; k++ {
			g := float64(m.lastMask[i][k])
			gMask := maskLambda * 2 * g / float64(n*m.nbErb)
			lo := k * chunk
			hi := lo + chunk
			if hi > len(noisy) {
				hi = len(noisy)
			}
			for t := lo; t < hi; t++ {
				gMask += 2 * float64(enh[t]-clean[t]) * float64(noisy[t]) / samples
			}

			s := g * (1 - g)
			a := float64(m.lastAct[i][k])
			gAct := gMask * s * float64(m.maskW.Data[k])

			m.maskW.Grad[k] += float32(gMask * s * a)
			m.encW.Grad[k] += float32(gAct * float64(b.FeatErb[i][k]))
			m.encB.Grad[k] += float32(gAct)
			m.rnnW.Grad[k] += float32(gAct * float64(m.lastHid[k]))
		}
	}
	for j := 0; j < m.nbSpec; j++ {
		alpha := float64(sigmoid(float64(m.dfW.Data[j])))
		m.dfW.Grad[j] += float32(dfLambda * 2 * alpha / float64(m.nbSpec) * alpha * (1 - alpha))
	}
	return nil
}
