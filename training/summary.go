package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/audioforge/denoise/dataset"
)

// WavSummaryWriter emits representative artifacts from the first item of
// a batch: clean/noisy/enhanced audio as WAV files plus the log-SNR and
// deep-filtering coefficient series as text, all tagged with the item's
// SNR so successive epochs overwrite comparable files.
type WavSummaryWriter struct {
	Dir        string
	SampleRate int
}

func (w *WavSummaryWriter) Write(split dataset.Split, epoch int, b *dataset.Batch, out *Output) error {
	if b == nil || out == nil || b.Size() == 0 {
		return nil
	}
	snr := b.SNR[0]
	if err := w.writeWav(fmt.Sprintf("%s_clean_snr%g.wav", split, snr), b.Speech[0]); err != nil {
		return err
	}
	if err := w.writeWav(fmt.Sprintf("%s_noisy_snr%g.wav", split, snr), b.Noisy[0]); err != nil {
		return err
	}
	if len(out.Enhanced) > 0 {
		if err := w.writeWav(fmt.Sprintf("%s_enh_snr%g.wav", split, snr), out.Enhanced[0]); err != nil {
			return err
		}
	}
	if len(out.LSNR) > 0 {
		if err := w.writeSeries(fmt.Sprintf("%s_lsnr_snr%g.txt", split, snr), out.LSNR[0]); err != nil {
			return err
		}
	}
	if len(out.DfAlpha) > 0 {
		if err := w.writeSeries(fmt.Sprintf("%s_df_alpha_snr%g.txt", split, snr), out.DfAlpha[0]); err != nil {
			return err
		}
	}
	return nil
}

func (w *WavSummaryWriter) writeWav(name string, samples []float32) error {
	f, err := os.Create(filepath.Join(w.Dir, name))
	if err != nil {
		return errors.Wrap(err, "create summary wav")
	}
	defer f.Close()

	enc := wav.NewEncoder(f, w.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf.Data[i] = int(v * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrap(err, "write summary wav")
	}
	return enc.Close()
}

func (w *WavSummaryWriter) writeSeries(name string, values []float32) error {
	f, err := os.Create(filepath.Join(w.Dir, name))
	if err != nil {
		return errors.Wrap(err, "create summary series")
	}
	defer f.Close()
	for _, v := range values {
		if _, err := fmt.Fprintf(f, "%.3f\n", v); err != nil {
			return errors.Wrap(err, "write summary series")
		}
	}
	return nil
}
