// deface removes facial structure from a NIfTI brain volume using FSL FLIRT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/carbocation/deface"
	_ "github.com/carbocation/deface/compileinfoprint"
	"github.com/carbocation/deface/config"
	"github.com/carbocation/deface/logging"
	"github.com/carbocation/deface/volume"
	"github.com/sirupsen/logrus"
)

const usage = `Deface an image using FSL.

Usage:
------
deface [flags] <filename to deface> <optional: outfilename>

`

func init() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
}

type options struct {
	configPath, dataDir, template, facemask, cost, interp, preview string
	noCleanup, verbose, verify                                     bool
}

func main() {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file. Defaults to "+config.DefaultPath+" if it exists.")
	flag.StringVar(&opts.dataDir, "data", "", "(Optional) Directory holding "+deface.TemplateFilename+" and "+deface.FacemaskFilename+".")
	flag.StringVar(&opts.template, "template", "", "(Optional) Template volume to register onto the input, overriding the bundled one.")
	flag.StringVar(&opts.facemask, "facemask", "", "(Optional) Face mask in template space, overriding the bundled one.")
	flag.StringVar(&opts.cost, "cost", "", "(Optional) FLIRT cost function for template registration. Default mutualinfo.")
	flag.StringVar(&opts.interp, "interp", "", "(Optional) FLIRT interpolation when warping the face mask, e.g. nearestneighbour. Default trilinear.")
	flag.StringVar(&opts.preview, "preview", "", "(Optional) Write a PNG of the mid-sagittal slice of the defaced volume to this path.")
	flag.BoolVar(&opts.noCleanup, "nocleanup", false, "Keep the temporary transform and warped mask.")
	flag.BoolVar(&opts.verbose, "verbose", false, "Log temporary file locations, flirt invocations and the estimated transform.")
	flag.BoolVar(&opts.verify, "verify", false, "Re-read the output with an independent NIfTI reader and report how much of each slice was removed.")
	flag.Parse()

	os.Exit(execute(opts, flag.Args()))
}

// execute runs the command and returns its exit status.
func execute(opts options, args []string) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logrus.Errorln(err)
		return 1
	}
	if opts.dataDir != "" {
		cfg.Assets.Dir = opts.dataDir
	}
	if opts.template != "" {
		cfg.Assets.Template = opts.template
	}
	if opts.facemask != "" {
		cfg.Assets.Facemask = opts.facemask
	}
	if opts.cost != "" {
		cfg.Registration.Cost = opts.cost
	}
	if opts.interp != "" {
		cfg.Registration.Interp = opts.interp
	}
	if opts.noCleanup {
		cfg.Workspace.Cleanup = false
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	log, logFile, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		logrus.Errorln(err)
		return 1
	}
	defer logFile.Close()

	assets := cfg.ResolveAssets()
	if err := assets.Check(); err != nil {
		log.Errorln(err)
		return 1
	}

	if len(args) < 1 {
		flag.Usage()
		return 2
	}
	input := args[0]
	output := ""
	if len(args) > 1 {
		output = args[1]
	}
	if output == "" {
		output = deface.DefaultOutputPath(input)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := cfg.Runner(os.Getenv("FSLDIR"))
	runner.Log = log

	d := &deface.Defacer{
		Assets:    assets,
		Registrar: runner,
		TempDir:   cfg.Workspace.TempDir,
		KeepTemps: !cfg.Workspace.Cleanup,
		Log:       log,
	}

	// Initialize the Google Storage client, but only if a path indicates that
	// we are pointing to Google Storage.
	if deface.IsGoogleStorage(input) || deface.IsGoogleStorage(output) {
		client, err := storage.NewClient(ctx)
		if err != nil {
			log.Errorln(err)
			return 1
		}
		defer client.Close()
		d.Storage = client
	}

	if err := run(ctx, log, d, input, output, opts.verify, opts.preview); err != nil {
		log.Errorln(err)
		return 1
	}

	return 0
}

func run(ctx context.Context, log *logrus.Logger, d *deface.Defacer, input, output string, verify bool, preview string) error {
	res, err := d.Deface(ctx, input, output)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"voxels":  res.Voxels,
		"removed": res.Removed,
	}).Debug("Masked")

	local := !deface.IsGoogleStorage(input) && !deface.IsGoogleStorage(output)

	if verify {
		if !local || !readableByFSL(input) {
			log.Warnln("Skipping verification: only local .nii and .nii.gz inputs can be re-read")
		} else {
			v, err := verifyOutput(input, output)
			if err != nil {
				return fmt.Errorf("verifying %s: %w", output, err)
			}
			log.WithFields(logrus.Fields{
				"dims":              v.Dims,
				"mean_removed":      fmt.Sprintf("%.3f", v.MeanRemoved),
				"max_removed":       fmt.Sprintf("%.3f", v.MaxRemoved),
				"max_removed_slice": v.MaxSlice,
			}).Info("Verified output")
		}
	}

	if preview != "" {
		if deface.IsGoogleStorage(output) {
			log.Warnln("Skipping preview: output is in Google Storage")
		} else if err := writePreview(output, preview); err != nil {
			return fmt.Errorf("writing preview: %w", err)
		} else {
			log.Infof("Preview saved as:\n%s", preview)
		}
	}

	return nil
}

func readableByFSL(path string) bool {
	c, err := volume.DetectFileCompression(path)
	return err == nil && (c == volume.CompressionNone || c == volume.CompressionGzip)
}
