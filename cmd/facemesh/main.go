// Command facemesh runs the face landmarks detector graph on one image and
// prints the landmarks, next-frame regions and presence scores as JSON.
//
// Usage:
//
//	facemesh -image face.png [-rect x,y,w,h[,rot]]... [-config detector.json] [-db runs.db]
//
// No -rect runs the single-region graph on the whole image; one -rect runs
// it on that region; several run the batch graph.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/facemesh/internal/config"
	"github.com/banshee-data/facemesh/internal/monitoring"
	"github.com/banshee-data/facemesh/internal/timeutil"
	"github.com/banshee-data/facemesh/internal/version"
	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/batch"
	"github.com/banshee-data/facemesh/internal/vision/facemesh"
	"github.com/banshee-data/facemesh/internal/vision/graph"
	"github.com/banshee-data/facemesh/internal/vision/inference"
	"github.com/banshee-data/facemesh/internal/vision/preprocess"
	"github.com/banshee-data/facemesh/internal/vision/storage/sqlite"
)

// Environment variables consulted when the matching flag is unset.
const (
	envConfig = "FACEMESH_CONFIG"
	envDB     = "FACEMESH_DB"
)

type cliFlags struct {
	configPath  string
	imagePath   string
	rects       rectList
	dbPath      string
	logFile     string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	set := flag.NewFlagSet("facemesh", flag.ContinueOnError)
	set.SetOutput(stderr)
	f := &cliFlags{}
	set.StringVar(&f.configPath, "config", "", "Detector config JSON (default $"+envConfig+" or "+config.DefaultConfigPath+")")
	set.StringVar(&f.imagePath, "image", "", "Input image (png, jpeg or webp)")
	set.Var(&f.rects, "rect", "Region x_center,y_center,width,height[,rotation] in normalized coordinates; repeatable")
	set.StringVar(&f.dbPath, "db", "", "SQLite database to record the run in (default $"+envDB+", disabled when empty)")
	set.StringVar(&f.logFile, "log-file", "", "Rotating log file (overrides config log_file)")
	set.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	if err := set.Parse(args); err != nil {
		return nil, err
	}
	if f.configPath == "" {
		f.configPath = os.Getenv(envConfig)
	}
	if f.dbPath == "" {
		f.dbPath = os.Getenv(envDB)
	}
	return f, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("facemesh: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if f.showVersion {
		_, err := fmt.Fprintln(stdout, version.String("facemesh"))
		return err
	}
	if f.imagePath == "" {
		return errors.New("-image is required")
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	logFile := cfg.GetLogFile()
	if f.logFile != "" {
		logFile = f.logFile
	}
	logger, err := monitoring.NewLogger(monitoring.Options{Level: cfg.GetLogLevel(), File: logFile, Output: stderr})
	if err != nil {
		return err
	}
	defer logger.Close()
	monitoring.SetLogger(logger.Printf)
	streams := monitoring.StreamWriters(logger.Logger)
	defer streams.Close()
	graph.SetLogWriters(streams.Ops, streams.Diag, streams.Trace)
	batch.SetLogWriters(streams.Ops, streams.Diag, streams.Trace)
	facemesh.SetLogWriters(streams.Ops, streams.Diag, streams.Trace)

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	img, err := loadImage(f.imagePath)
	if err != nil {
		return err
	}

	if d := cfg.GetDetectTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	clock := timeutil.RealClock{}
	start := clock.Now()
	items, out, err := detect(ctx, det, img, f.rects)
	if err != nil {
		return err
	}
	logger.Debugf("%s model: %d region(s) in %s", det.Variant(), len(items), clock.Since(start))
	if err := facemesh.WriteJSON(stdout, out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if f.dbPath == "" {
		return nil
	}
	rec := &sqlite.Run{
		ImagePath:     f.imagePath,
		ImageSize:     img.Size(),
		ModelVariant:  det.Variant().String(),
		MinConfidence: det.Options().MinDetectionConfidence,
		Backend:       det.Options().Acceleration.Backend.String(),
	}
	if err := record(ctx, f.dbPath, rec, items); err != nil {
		return err
	}
	logger.Infof("recorded run %s with %d regions in %s", rec.RunID, len(items), f.dbPath)
	return nil
}

// loadConfig reads path, falling back to the default config when it is
// present and to built-in defaults otherwise.
func loadConfig(path string) (*config.DetectorConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyDetectorConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadDetectorConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func newDetector(cfg *config.DetectorConfig) (*facemesh.Detector, error) {
	metaPath := cfg.ModelMetadataPath()
	if metaPath == "" {
		return nil, errors.New("config: model_metadata is required")
	}
	model, err := inference.LoadModelMetadata(os.DirFS(filepath.Dir(metaPath)), filepath.Base(metaPath))
	if err != nil {
		return nil, err
	}
	replayPath := cfg.ReplayTensorsPath()
	if replayPath == "" {
		return nil, errors.New("config: replay_tensors is required")
	}
	engine, err := inference.LoadReplayEngine(os.DirFS(filepath.Dir(replayPath)), filepath.Base(replayPath))
	if err != nil {
		return nil, err
	}
	if engine.OutputCount() != model.OutputTensorCount() {
		return nil, fmt.Errorf("replay %s has %d tensors, model %q declares %d",
			replayPath, engine.OutputCount(), model.Name, model.OutputTensorCount())
	}

	spec, err := model.InputImageSpec()
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.New(cfg.PreprocessOptions(spec))
	if err != nil {
		return nil, err
	}
	opts, err := cfg.DetectorOptions()
	if err != nil {
		return nil, err
	}
	return facemesh.NewDetector(opts, facemesh.Collaborators{Preprocessor: pre, Engine: engine, Model: model})
}

func loadImage(path string) (*vision.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	src, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	monitoring.Logf("decoded %s image %s (%dx%d)", format, path, src.Bounds().Dx(), src.Bounds().Dy())
	return vision.NewImage(src)
}

// detect runs the single-region graph for zero or one rect and the batch
// graph otherwise. It returns the per-region items to record and the value
// to print.
func detect(ctx context.Context, det *facemesh.Detector, img *vision.Image, rects rectList) ([]sqlite.Item, any, error) {
	if len(rects) <= 1 {
		var rect *vision.NormalizedRect
		region := vision.WholeImageRect()
		if len(rects) == 1 {
			rect = &rects[0]
			region = rects[0]
		}
		res, err := det.Detect(ctx, img, rect)
		if err != nil {
			return nil, nil, err
		}
		item := sqlite.Item{
			Region:        region,
			Presence:      res.Presence,
			PresenceScore: res.PresenceScore,
			Landmarks:     res.Landmarks.OrElse(facemesh.EmptyLandmarks()),
			RectNextFrame: res.RectNextFrame.OrZero(),
		}
		return []sqlite.Item{item}, res, nil
	}

	res, err := det.DetectBatch(ctx, img, rects)
	if err != nil {
		return nil, nil, err
	}
	items := make([]sqlite.Item, res.Len())
	for i := range items {
		items[i] = sqlite.Item{
			Seq:           i,
			Region:        rects[i],
			Presence:      res.Presence[i],
			PresenceScore: res.PresenceScores[i],
			Landmarks:     res.Landmarks[i],
			RectNextFrame: res.RectsNextFrame[i],
		}
	}
	return items, res, nil
}

func record(ctx context.Context, path string, run *sqlite.Run, items []sqlite.Item) error {
	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.InsertRun(ctx, run, items)
}
