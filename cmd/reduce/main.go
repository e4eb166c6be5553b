// Command reduce runs a reduction recipe over one or more datasets: it loads
// the configuration space, classifies the lead dataset (or honors an explicit
// type override), binds the requested recipe, drives the execution step by
// step, and prints the checkpoint stream followed by the history report.
// Pending calibration requests can be resolved against a manifest, and the
// finished run can be persisted to the configured run store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"reducore/internal/blob"
	"reducore/internal/calib"
	"reducore/internal/configspace"
	"reducore/internal/core"
	"reducore/internal/runstore"
	"reducore/pkg/datasetapi"
	"reducore/primitives/gemini"
)

var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	roots        []string
	recipe       string
	typeOverride string
	manifest     string
	trace        string
	persist      bool
	loadTimes    bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reduce", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configRoots  string
		recipeName   string
		typeOverride string
		manifestPath string
		tracePath    string
		persist      bool
		loadTimes    bool
	)
	fs.StringVar(&configRoots, "config", "", "colon-separated configuration roots (default $"+configspace.EnvConfigPath+")")
	fs.StringVar(&recipeName, "recipe", "", "recipe to run (default: the winning type's default recipe)")
	fs.StringVar(&typeOverride, "astrotype", "", "classification type override, skipping filename classification")
	fs.StringVar(&manifestPath, "calibrations", "", "calibration manifest; pending requests are resolved against it after the run")
	fs.StringVar(&tracePath, "trace", "", "write JSON span lines for engine operations to this file")
	fs.BoolVar(&persist, "persist", false, "save the run record to the configured run store")
	fs.BoolVar(&loadTimes, "loadtimes", false, "print module load times after the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		if _, writeErr := fmt.Fprintln(stderr, "reduce: at least one dataset argument is required"); writeErr != nil {
			return 2
		}
		return 2
	}

	opts := options{
		recipe:       recipeName,
		typeOverride: typeOverride,
		manifest:     manifestPath,
		trace:        tracePath,
		persist:      persist,
		loadTimes:    loadTimes,
	}
	if configRoots != "" {
		for _, part := range strings.Split(configRoots, ":") {
			if part = strings.TrimSpace(part); part != "" {
				opts.roots = append(opts.roots, part)
			}
		}
	} else {
		opts.roots = configspace.RootsFromEnv()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, fs.Args(), stdout); err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Reduction failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	return 0
}

// run executes one reduction end to end. The history report, calibration
// resolutions, and the persisted record are produced even when a primitive
// fails, so the partial run stays inspectable.
func run(ctx context.Context, opts options, datasets []string, stdout io.Writer) (err error) {
	space := gemini.Space()
	if len(opts.roots) > 0 {
		discovered, dErr := configspace.Discover(opts.roots...)
		if dErr != nil {
			return fmt.Errorf("discover configuration: %w", dErr)
		}
		space = configspace.Merge(space, discovered)
	}

	var regOpts []core.RegistryOption
	if opts.trace != "" {
		traceFile, tErr := os.Create(opts.trace)
		if tErr != nil {
			return fmt.Errorf("open trace file: %w", tErr)
		}
		defer func() {
			if cerr := traceFile.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close trace file: %w", cerr)
			}
		}()
		regOpts = append(regOpts, core.WithTracer(core.NewJSONTracer(traceFile)))
	}

	reg, err := core.NewRegistry(space, gemini.Factories(), regOpts...)
	if err != nil {
		return fmt.Errorf("load configuration space: %w", err)
	}

	var (
		ro   *core.ReductionObject
		lead core.Dataset
	)
	if opts.typeOverride != "" {
		ro, err = reg.RetrieveReductionObjectForType(ctx, opts.typeOverride)
		if err != nil {
			return err
		}
	} else {
		ds, owned, oErr := datasetapi.OpenIfNeeded(datasets[0], datasetapi.ClassifierFunc(reg.Graph().ClassifyFull))
		if oErr != nil {
			return fmt.Errorf("open dataset: %w", oErr)
		}
		defer func() {
			if cerr := datasetapi.CloseIfNeeded(ds, owned); cerr != nil && err == nil {
				err = fmt.Errorf("close dataset: %w", cerr)
			}
		}()
		lead = ds
		ro, err = reg.RetrieveReductionObject(ctx, ds)
		if err != nil {
			return err
		}
	}

	recipe := opts.recipe
	if recipe == "" {
		name, ok := reg.DefaultRecipe(ro.TypeName())
		if !ok {
			return fmt.Errorf("no recipe given and no default declared for %s", ro.TypeName())
		}
		recipe = name
	}

	// An unqualified lookup through the winning type misses recipes declared
	// for an ancestor; binding through the lead dataset's applicable chain
	// covers those.
	if lead != nil && !ro.Satisfies(recipe) {
		if _, bErr := reg.LoadAndBindRecipeForDataset(ctx, ro, recipe, lead); bErr != nil {
			return bErr
		}
	}

	rc := core.NewExecutionContext(datasets, core.WithParams(reg.Params()))
	exec, err := reg.NewExecution(ctx, ro, rc, recipe)
	if err != nil {
		return err
	}

	if _, wErr := fmt.Fprintf(stdout, "reducing %d dataset(s) as %s with recipe %s\n", len(datasets), ro.TypeName(), recipe); wErr != nil {
		return wErr
	}

	driver := core.NewDriver(exec)
	if err := driver.Start(ctx); err != nil {
		return err
	}
	for cp := range driver.Checkpoints() {
		if _, wErr := fmt.Fprintf(stdout, "step %d: %s [%s] -> %s\n", cp.Index+1, cp.Step, cp.Status, strings.Join(cp.Inputs, ", ")); wErr != nil {
			return wErr
		}
		// Non-interactive runs resume a self-paused execution immediately.
		if cp.Status == core.StatusPaused {
			if rErr := driver.Resume(); rErr != nil {
				return rErr
			}
		}
	}
	runErr := driver.Wait()

	if _, wErr := fmt.Fprint(stdout, rc.ReportHistory()); wErr != nil {
		return wErr
	}

	if opts.manifest != "" {
		if cErr := resolveCalibrations(ctx, rc, opts.manifest, stdout); cErr != nil {
			return cErr
		}
	}
	if opts.persist {
		if pErr := persistRun(ctx, exec, stdout); pErr != nil {
			return pErr
		}
	}
	if opts.loadTimes {
		if _, wErr := fmt.Fprint(stdout, reg.LoadTimeReport()); wErr != nil {
			return wErr
		}
	}
	if runErr != nil {
		return runErr
	}
	if _, wErr := fmt.Fprintf(stdout, "products: %s\n", rc.InputsAsStr(false)); wErr != nil {
		return wErr
	}
	return nil
}

// resolveCalibrations drains the context's pending calibration requests
// against the manifest, caching retrieved products in the configured blob
// store and printing one line per resolution.
func resolveCalibrations(ctx context.Context, rc *core.ExecutionContext, manifest string, stdout io.Writer) error {
	searcher, err := calib.LoadManifest(manifest)
	if err != nil {
		return fmt.Errorf("load calibration manifest: %w", err)
	}
	cache, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open calibration cache: %w", err)
	}
	resolutions, err := calib.NewManager(searcher, cache).ProcessContext(ctx, rc)
	for _, res := range resolutions {
		detail := res.Ref
		if detail == "" {
			detail = res.Message
		}
		if _, wErr := fmt.Fprintf(stdout, "calibration %s for %s: %s %s\n", res.Request.CalType, res.Request.DatasetRef, res.Status, detail); wErr != nil {
			return wErr
		}
	}
	if err != nil {
		return fmt.Errorf("resolve calibrations: %w", err)
	}
	return nil
}

// persistRun saves the execution snapshot, failed runs included, to the run
// store selected by the environment.
func persistRun(ctx context.Context, exec *core.Execution, stdout io.Writer) (err error) {
	store, err := runstore.Open()
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close run store: %w", cerr)
		}
	}()
	rec := core.SnapshotRun(exec)
	if err := store.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if _, wErr := fmt.Fprintf(stdout, "run %s persisted (%s)\n", rec.ID, rec.Status); wErr != nil {
		return wErr
	}
	return nil
}
