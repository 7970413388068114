// Command train runs speech-enhancement training: it wires the dataset
// loader, baseline model, optimizer and learning-rate schedule into the
// training orchestrator and drives it to completion or graceful stop.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/audioforge/denoise/config"
	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/model"
	"github.com/audioforge/denoise/training"
)

type args struct {
	DataConfig string `arg:"positional,required" help:"path to a dataset config file"`
	DataDir    string `arg:"positional,required" help:"path to the dataset directory"`
	BaseDir    string `arg:"positional,required" help:"directory to store logs, summaries and checkpoints"`
	NoResume   bool   `arg:"--no-resume" help:"do not resume from an existing checkpoint"`
	Debug      bool   `arg:"--debug" help:"verbose logging and raw per-substep loss retention"`
}

func main() {
	var a args
	arg.MustParse(&a)
	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(a args) error {
	if st, err := os.Stat(a.DataConfig); err != nil || st.IsDir() {
		return fmt.Errorf("dataset config not found at %s", a.DataConfig)
	}
	if st, err := os.Stat(a.DataDir); err != nil || !st.IsDir() {
		return fmt.Errorf("data directory not found at %s", a.DataDir)
	}
	summaryDir := filepath.Join(a.BaseDir, "summaries")
	checkpointDir := filepath.Join(a.BaseDir, "checkpoints")
	for _, dir := range []string{a.BaseDir, summaryDir, checkpointDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	logger, err := initLogger(filepath.Join(a.BaseDir, "train.log"), a.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load(filepath.Join(a.BaseDir, "config.ini"))
	if err != nil {
		return err
	}

	seed := int64(cfg.Int("train", "SEED", 42))
	lr := cfg.Float("train", "LR", 1e-4)
	decay := cfg.Float("train", "WEIGHT_DECAY", 1e-3)
	algorithm := cfg.Str("train", "OPTIMIZER", "adam")
	momentum := cfg.Float("train", "MOMENTUM", 0)
	betas := cfg.Floats("train", "BETAS", []float64{0.9, 0.98})
	bs := cfg.Int("train", "BATCH_SIZE", 1)
	bsEval := cfg.Int("train", "BATCH_SIZE_EVAL", 0)
	maxEpochs := cfg.Int("train", "MAX_EPOCHS", 10)
	logFreq := cfg.Int("train", "LOG_FREQ", 100)
	maskOnly := cfg.Bool("train", "MASK_ONLY", false)
	dfOnly := cfg.Bool("train", "DF_ONLY", false)
	startEval := cfg.Bool("train", "START_EVAL", false)
	maxLenS := cfg.Float("train", "MAX_SAMPLE_LEN_S", 5.0)
	nbErb := cfg.Int("df", "NB_ERB", 32)
	nbSpec := cfg.Int("df", "NB_DF", 96)
	sampleRate := cfg.Int("df", "SR", 48000)

	stop := &training.StopToken{}
	cancel := training.ListenForStop(stop, a.BaseDir, log, syscall.SIGUSR1)
	defer cancel()

	loader, err := dataset.LoadWavDataset(a.DataConfig, a.DataDir, dataset.WavOptions{
		MaxLenSeconds: maxLenS,
		NbErb:         nbErb,
		NbSpec:        nbSpec,
		BatchSize:     bs,
		BatchSizeEval: bsEval,
	})
	if err != nil {
		return err
	}

	net := model.NewBaseline(nbErb, nbSpec, seed)
	log.Infof("Model summary: %s", net.Summary())

	startEpoch := 0
	resumeDir := ""
	if !a.NoResume {
		resumeDir = checkpointDir
		epoch, err := training.RestoreModel(net, checkpointDir)
		if err != nil {
			return err
		}
		if epoch > 0 {
			log.Infof("Resuming from checkpoint epoch %d", epoch)
		}
		startEpoch = epoch
	}

	betaPair, err := betasPair(betas)
	if err != nil {
		return err
	}

	mode := training.AllParams
	submodule := ""
	switch {
	case maskOnly:
		mode = training.MaskOnly
	case dfOnly:
		mode = training.SubmoduleOnly
		submodule = "df"
	}
	opt, err := training.BuildOptimizer(net, training.OptimizerConfig{
		Algorithm:   algorithm,
		LR:          lr,
		WeightDecay: decay,
		Momentum:    momentum,
		Betas:       betaPair,
		Mode:        mode,
		Submodule:   submodule,
	}, resumeDir, log)
	if err != nil {
		return err
	}

	// Persist resolved defaults so the run is reproducible from disk.
	if err := cfg.Save(); err != nil {
		log.Warnf("Failed to save config: %v", err)
	}

	orch := &training.Orchestrator{
		Runner: &training.EpochRunner{
			Model:     net,
			Criterion: &model.Criterion{},
			Loader:    loader,
			Summary:   &training.WavSummaryWriter{Dir: summaryDir, SampleRate: sampleRate},
			Log:       log,
			LogFreq:   logFreq,
			Debug:     a.Debug,
		},
		Opt:           opt,
		Scheduler:     training.NewCosineWarmupScheduler(lr),
		Agg:           training.NewLossAggregator(training.DefaultRollingWindow),
		CheckpointDir: checkpointDir,
		StartEpoch:    startEpoch,
		MaxEpochs:     maxEpochs,
		StartEval:     startEval,
		Debug:         a.Debug,
		Stop:          stop,
		Log:           log,
	}
	return orch.Run()
}

// betasPair validates the BETAS option, which must hold exactly the two
// Adam moment coefficients.
func betasPair(vals []float64) ([2]float64, error) {
	if len(vals) != 2 {
		return [2]float64{}, fmt.Errorf("BETAS must hold exactly two values, got %d", len(vals))
	}
	return [2]float64{vals[0], vals[1]}, nil
}

func initLogger(path string, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	console := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	file := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level)
	return zap.New(zapcore.NewTee(console, file)), nil
}
