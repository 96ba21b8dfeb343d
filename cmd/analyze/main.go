package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/config"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/logging"
	"github.com/nvr-ai/forklift-safety/pipeline"
	"github.com/nvr-ai/forklift-safety/util"
)

// builder assembles the pipeline from the loaded configuration.
type builder func(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, error)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, func(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, error) {
		return pipeline.NewFromConfig(cfg, log, nil)
	}))
}

// run executes the CLI and returns the process exit code. Deferred teardown
// runs before main exits.
func run(args []string, stdout, stderr io.Writer, build builder) int {
	flags := flag.NewFlagSet("analyze", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		videoPath  string
		dirPath    string
		outPath    string
		configPath string
		withFrame  bool
		verbose    bool
	)
	flags.StringVar(&videoPath, "video", "", "Path to video file ("+strings.Join(util.VideoExtensions, ", ")+")")
	flags.StringVar(&dirPath, "dir", "", "Analyze every video in a directory")
	flags.StringVar(&outPath, "out", "", "Write the annotated first frame as JPEG (a directory when -dir is set)")
	flags.StringVar(&configPath, "config", os.Getenv("FORKLIFT_CONFIG"), "Optional YAML configuration file")
	flags.BoolVar(&withFrame, "frame", false, "Include the frame data URL in the JSON output")
	flags.BoolVar(&verbose, "v", false, "Verbose logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if (videoPath == "") == (dirPath == "") {
		fmt.Fprintln(stderr, "error: exactly one of -video or -dir is required")
		flags.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logging.NewDevelopment(level)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	p, err := build(cfg, log)
	if err != nil {
		log.Error("build pipeline", zap.Error(err))
		return 1
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("release pipeline", zap.Error(err))
		}
	}()

	var videos []string
	if dirPath != "" {
		files, err := util.LoadDirectoryVideoFiles(dirPath)
		if err != nil {
			log.Error("list videos", zap.Error(err))
			return 1
		}
		for _, f := range files {
			videos = append(videos, f.Path)
		}
		if outPath != "" {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				log.Error("create output directory", zap.Error(err))
				return 1
			}
		}
	} else {
		if err := util.ValidateVideoFile(videoPath); err != nil {
			fmt.Fprintf(stderr, "video validation error: %v\n", err)
			return 2
		}
		videos = []string{videoPath}
	}

	exit := 0
	for _, video := range videos {
		out := outPath
		if dirPath != "" && outPath != "" {
			out = filepath.Join(outPath, strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))+".jpg")
		}
		if err := analyze(stdout, p, video, out, withFrame); err != nil {
			fmt.Fprintf(stderr, "%s: %s: %v\n", video, kindOrError(err), err)
			exit = 1
		}
	}
	return exit
}

// analyze prints the result as JSON followed by the verdict, and writes the
// overlay when out is set.
func analyze(w io.Writer, p *pipeline.Pipeline, video, out string, withFrame bool) error {
	result, err := p.AnalyzeVideo(context.Background(), video)
	if err != nil {
		return err
	}

	if out != "" {
		jpeg, err := p.Visualize(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, jpeg, 0o644); err != nil {
			return err
		}
	}

	printed := detection.Result{
		PersonDetected: result.PersonDetected,
		Detections:     result.Detections,
		Frame:          result.Frame,
	}
	if !withFrame {
		printed.Frame = ""
	}
	data, err := json.MarshalIndent(printed, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	fmt.Fprintf(w, "%s: %s\n", filepath.Base(video), result.Verdict())
	return nil
}

func kindOrError(err error) string {
	if kind := common.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
