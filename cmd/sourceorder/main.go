// Command sourceorder trains, serves and exports the clinic power source
// classifier.
//
//	sourceorder train   [-config f]
//	sourceorder predict [-config f] [-artifacts dir] Field=Value ...
//	sourceorder export  [-config f] [-artifacts dir] [-out dir]
//	sourceorder runs    [-config f] [-limit n]
//	sourceorder serve   [-config f] [-artifacts dir] [-addr :8080]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/clinix/sourceorder/config"
	"github.com/clinix/sourceorder/dataset"
	"github.com/clinix/sourceorder/pipeline"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/pkg/log"
	"github.com/clinix/sourceorder/registry"
	"github.com/clinix/sourceorder/report"
	"github.com/clinix/sourceorder/server"
)

const usage = `usage: sourceorder <command> [flags]

commands:
  train    fit encoders, scaler and classifier and save the artifacts
  predict  classify one record given as Field=Value arguments
  export   write scaler.h, labels.h and encoders.h
  runs     list recorded training runs
  serve    serve predictions over HTTP
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		log.GetLogger().Error("sourceorder failed", log.ErrAttrKey, err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "train":
		return runTrain(ctx, args, stdout)
	case "predict":
		return runPredict(args, stdout)
	case "export":
		return runExport(args, stdout)
	case "runs":
		return runRuns(ctx, args, stdout)
	case "serve":
		return runServe(ctx, args)
	case "help", "-h", "--help":
		_, err := io.WriteString(stdout, usage)
		return err
	default:
		return errors.Newf("unknown command %q\n%s", cmd, usage)
	}
}

// setup parses fs, loads the configuration and configures logging.
func setup(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "configuration file (default $SOURCEORDER_CONFIG or sourceorder.yaml)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if err := log.SetupLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func runTrain(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("train")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}

	res, err := pipeline.Train(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run %s: %d train / %d test rows, %d epochs\n",
		res.RunID, res.TrainRows, res.TestRows, res.History.Epochs())
	if err := report.WriteSummary(stdout, res.Evaluation, res.Classes); err != nil {
		return err
	}
	if res.Quantized {
		fmt.Fprintf(stdout, "int8 accuracy %.4f\n", res.QuantizedAccuracy)
	}
	for _, f := range res.Files {
		fmt.Fprintln(stdout, "wrote", f)
	}
	return nil
}

func runPredict(args []string, stdout io.Writer) error {
	fs := newFlagSet("predict")
	artifacts := fs.String("artifacts", "", "artifact directory (default artifacts.dir)")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *artifacts == "" {
		*artifacts = cfg.Artifacts.Dir
	}

	rec, err := dataset.ParseRecord(fs.Args())
	if err != nil {
		return err
	}
	p, err := pipeline.LoadPredictor(*artifacts)
	if err != nil {
		return err
	}
	pred, err := p.Predict(rec)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pred)
}

func runExport(args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	artifacts := fs.String("artifacts", "", "artifact directory (default artifacts.dir)")
	out := fs.String("out", "", "header output directory (default export.dir)")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *artifacts == "" {
		*artifacts = cfg.Artifacts.Dir
	}
	if *out == "" {
		*out = cfg.Export.Dir
	}

	paths, err := pipeline.Export(*artifacts, *out)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(stdout, "wrote", p)
	}
	return nil
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("runs")
	limit := fs.Int("limit", 20, "maximum number of runs to list (0 for all)")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if cfg.Registry.Path == "" {
		return errors.NewValidationError("registry.path", "must be set to list runs", cfg.Registry.Path)
	}

	store, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tDATASET\tROWS\tCLASSES\tACCURACY\tLOSS\tINT8")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.4f\t%.4f\t%t\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Dataset,
			r.Rows, r.Classes, r.Accuracy, r.Loss, r.Quantized)
	}
	return tw.Flush()
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	artifacts := fs.String("artifacts", "", "artifact directory (default artifacts.dir)")
	addr := fs.String("addr", "", "listen address (default server.addr)")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *artifacts == "" {
		*artifacts = cfg.Artifacts.Dir
	}
	if *addr == "" {
		*addr = cfg.Server.Addr
	}

	p, err := pipeline.LoadPredictor(*artifacts)
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("server")
	logger.Info("Serving predictions", "addr", *addr, log.RunIDKey, p.RunID())
	return server.Serve(ctx, server.New(p, logger), *addr)
}
