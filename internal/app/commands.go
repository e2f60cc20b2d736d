package app

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"ssddetect/internal/annotate"
	"ssddetect/internal/config"
	"ssddetect/internal/dto"
	"ssddetect/internal/inference"
	"ssddetect/internal/labels"
	"ssddetect/internal/logger"
	"ssddetect/internal/repository/sqlite"
	"ssddetect/internal/service/ai"
	"ssddetect/internal/service/storage"
)

const (
	flagModel     = "model"
	flagImage     = "image"
	flagWidth     = "width"
	flagHeight    = "height"
	flagThreshold = "threshold"
	flagBackend   = "backend"
	flagShow      = "show"
	flagOut       = "out"
	flagDB        = "db"
	flagPort      = "port"
	flagLabel     = "label"
	flagSource    = "source"
	flagLimit     = "limit"
	flagDebug     = "debug"

	// cliSource is the source name of runs recorded from the command line.
	cliSource = "cli"
)

// NewCLI builds the ssddetect command line application.
func NewCLI() *cli.App {
	return &cli.App{
		Name:            "ssddetect",
		Usage:           "detect COCO objects in images with an SSD model",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run the model on one image and print the detections",
				UsageText: "ssddetect detect --model FILE --image FILE [options]",
				Flags: append(modelFlags(),
					&cli.StringFlag{
						Name:     flagImage,
						Aliases:  []string{"i"},
						Usage:    "image `FILE` to run detection on",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  flagShow,
						Usage: "show the annotated image in a window",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the annotated image to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagDB,
						Usage: "record the run in the history database at `FILE`",
					},
				),
				Action: DetectAction,
			},
			{
				Name:  "serve",
				Usage: "serve the detection API with one loaded model",
				Flags: append(modelFlags(),
					&cli.IntFlag{
						Name:    flagPort,
						Aliases: []string{"p"},
						Usage:   "HTTP port",
					},
					&cli.StringFlag{
						Name:  flagDB,
						Usage: "history database `FILE`",
					},
				),
				Action: ServeAction,
			},
			{
				Name:  "history",
				Usage: "list recorded runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDB, Usage: "history database `FILE`"},
					&cli.StringFlag{Name: flagLabel, Usage: "only runs with a detection of `LABEL`"},
					&cli.StringFlag{Name: flagSource, Usage: "only runs from `SOURCE`"},
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "maximum number of runs"},
				},
				Action: HistoryAction,
			},
			{
				Name:   "labels",
				Usage:  "print the class ids and names the model reports",
				Action: LabelsAction,
			},
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagModel,
			Aliases: []string{"m"},
			Usage:   "ONNX model `FILE`",
		},
		&cli.IntFlag{Name: flagWidth, Usage: "input tensor width"},
		&cli.IntFlag{Name: flagHeight, Usage: "input tensor height"},
		&cli.Float64Flag{Name: flagThreshold, Usage: "minimum score (exclusive)"},
		&cli.StringFlag{Name: flagBackend, Usage: "inference backend: onnx or opencv"},
	}
}

// loadConfig reads the environment and applies any flags set on c.
func loadConfig(c *cli.Context) *config.Config {
	cfg := config.Load()

	if c.IsSet(flagModel) {
		cfg.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagWidth) {
		cfg.InputWidth = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cfg.InputHeight = c.Int(flagHeight)
	}
	if c.IsSet(flagThreshold) {
		cfg.ScoreThreshold = c.Float64(flagThreshold)
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagShow) {
		cfg.ShowWindow = c.Bool(flagShow)
	}
	if c.IsSet(flagDB) {
		cfg.DBPath = c.String(flagDB)
	}
	if c.IsSet(flagPort) {
		cfg.Port = c.Int(flagPort)
	}
	if c.Bool(flagDebug) {
		cfg.LogLevel = "debug"
	}
	return cfg
}

// DetectAction runs one detection pass and prints the result lines.
func DetectAction(c *cli.Context) (err error) {
	cfg := loadConfig(c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, log.Close()) }()

	imagePath := c.String(flagImage)
	out := c.String(flagOut)

	// Nothing to keep beyond the text: load, detect and release in one go.
	if out == "" && !c.IsSet(flagDB) {
		text, err := ai.RunFile(c.Context, inference.OptionsFromConfig(cfg), imagePath, ai.OptionsFromConfig(cfg), log)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, text)
		return nil
	}

	detector, err := ai.OpenDetectorService(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, detector.Close()) }()

	result, img, err := detector.DetectFile(c.Context, imagePath)
	if err != nil {
		return err
	}
	defer img.Close()

	fmt.Fprintln(c.App.Writer, result.Text)

	if out != "" {
		if err := annotate.Save(out, img); err != nil {
			return err
		}
		log.Info("Annotated image written to %s", out)
	}

	if c.IsSet(flagDB) {
		return recordRun(cfg, log, imagePath, result, img)
	}
	return nil
}

func recordRun(cfg *config.Config, log *logger.Logger, imagePath string, result *ai.Result, img gocv.Mat) error {
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	annotated, err := annotate.Encode(img, gocv.JPEGFileExt)
	if err != nil {
		return err
	}

	recorder := storage.NewRecorder(cfg, log, sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db))
	source := cliSource + ":" + filepath.Base(imagePath)
	_, err = recorder.Record(source, result.Width, result.Height, result.Detections, annotated)
	return err
}

// ServeAction runs the detection server until interrupted.
func ServeAction(c *cli.Context) (err error) {
	cfg := loadConfig(c)

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, log.Close()) }()

	application, err := NewApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, application.Close()) }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

// HistoryAction prints recorded runs as a table.
func HistoryAction(c *cli.Context) error {
	cfg := loadConfig(c)

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runRepo := sqlite.NewRunRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)

	runs, err := runRepo.GetAll(&dto.RunFilters{
		Label:  c.String(flagLabel),
		Source: c.String(flagSource),
		Limit:  c.Int(flagLimit),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tSIZE\tLABELS")
	for _, run := range runs {
		names, err := detectionRepo.GetLabelsByRunID(run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t%v\n",
			run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.Source, run.Width, run.Height, names)
	}
	return w.Flush()
}

// LabelsAction prints the label table, one "id<TAB>name" per line.
func LabelsAction(c *cli.Context) error {
	for i, name := range labels.COCO {
		if _, err := fmt.Fprintf(c.App.Writer, "%d\t%s\n", i+1, name); err != nil {
			return err
		}
	}
	return nil
}

// ExitCode maps an error returned by the CLI to a process exit status.
func ExitCode(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return 1
	}
	return 0
}
