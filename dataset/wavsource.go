package dataset

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// pairEntry describes one clean/noise recording pair in the dataset config.
type pairEntry struct {
	Clean string  `json:"clean"`
	Noise string  `json:"noise"`
	SNR   float64 `json:"snr"`
	Atten float64 `json:"atten,omitempty"`
}

// wavConfig is the on-disk dataset description: WAV pairs per split.
type wavConfig struct {
	Train []pairEntry `json:"train"`
	Valid []pairEntry `json:"valid"`
	Test  []pairEntry `json:"test"`
}

// WavOptions controls sample materialization.
type WavOptions struct {
	MaxLenSeconds float64 // truncate signals to this length, 0 keeps all
	NbErb         int     // number of band-energy features
	NbSpec        int     // number of spectral feature bins
	BatchSize     int
	BatchSizeEval int
}

// LoadWavDataset reads the dataset config, decodes every referenced WAV
// pair relative to dataDir, mixes noisy signals at the configured SNR and
// returns an in-memory loader over the materialized samples.
func LoadWavDataset(configPath, dataDir string, opts WavOptions) (*MemLoader, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "read dataset config")
	}
	var cfg wavConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse dataset config")
	}

	samples := make(map[Split][]*Sample, 3)
	for split, entries := range map[Split][]pairEntry{Train: cfg.Train, Valid: cfg.Valid, Test: cfg.Test} {
		for _, e := range entries {
			s, err := loadPair(dataDir, e, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "load %s sample %s", split, e.Clean)
			}
			samples[split] = append(samples[split], s)
		}
	}
	return NewMemLoader(samples, opts.BatchSize, opts.BatchSizeEval), nil
}

func loadPair(dataDir string, e pairEntry, opts WavOptions) (*Sample, error) {
	clean, sr, err := decodeWav(filepath.Join(dataDir, e.Clean))
	if err != nil {
		return nil, err
	}
	noise, _, err := decodeWav(filepath.Join(dataDir, e.Noise))
	if err != nil {
		return nil, err
	}
	if opts.MaxLenSeconds > 0 {
		maxLen := int(opts.MaxLenSeconds * float64(sr))
		if len(clean) > maxLen {
			clean = clean[:maxLen]
		}
	}
	n := len(clean)
	if len(noise) < n {
		// Tile short noise recordings to cover the speech signal.
		tiled := make([]float32, n)
		for i := range tiled {
			tiled[i] = noise[i%len(noise)]
		}
		noise = tiled
	} else {
		noise = noise[:n]
	}

	gain := mixGain(clean, noise, e.SNR)
	noisy := make([]float32, n)
	for i := range noisy {
		noisy[i] = clean[i] + gain*noise[i]
	}

	nbErb, nbSpec := opts.NbErb, opts.NbSpec
	if nbErb <= 0 {
		nbErb = 32
	}
	if nbSpec <= 0 {
		nbSpec = 96
	}
	return &Sample{
		Speech:   clean,
		Noisy:    noisy,
		FeatErb:  bandEnergies(noisy, nbErb),
		FeatSpec: bandEnergies(noisy, nbSpec),
		SNR:      float32(e.SNR),
		Atten:    float32(e.Atten),
		MaxFreq:  nbSpec,
	}, nil
}

func decodeWav(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "open wav")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, errors.Wrap(err, "decode wav")
	}
	scale := float32(int64(1) << (dec.BitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out, buf.Format.SampleRate, nil
}

// mixGain returns the noise gain that realizes the requested SNR in dB.
func mixGain(clean, noise []float32, snrDB float64) float32 {
	ps := power(clean)
	pn := power(noise)
	if pn == 0 {
		return 0
	}
	target := ps / math.Pow(10, snrDB/10)
	return float32(math.Sqrt(target / pn))
}

func power(xs []float32) float64 {
	var sum float64
	for _, x := range xs {
		sum += float64(x) * float64(x)
	}
	if len(xs) == 0 {
		return 0
	}
	return sum / float64(len(xs))
}

// bandEnergies splits the signal into nb contiguous chunks and returns the
// log energy of each, a cheap stand-in for filterbank features.
func bandEnergies(xs []float32, nb int) []float32 {
	out := make([]float32, nb)
	if len(xs) == 0 {
		return out
	}
	chunk := (len(xs) + nb - 1) / nb
	for i := 0; i < nb; i++ {
		lo := i * chunk
		hi := lo + chunk
		if lo >= len(xs) {
			break
		}
		if hi > len(xs) {
			hi = len(xs)
		}
		out[i] = float32(math.Log10(power(xs[lo:hi]) + 1e-10))
	}
	return out
}
