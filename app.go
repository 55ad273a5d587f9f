package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kwv/scanalign/align"
)

// AppOptions are the global CLI options.
type AppOptions struct {
	ConfigFile string
	ConfigSet  bool // --config given explicitly; a missing file is then an error
	Verbose    bool
	Out        io.Writer
	Err        io.Writer
}

// AlignOptions describe the scan and footprint shared by register and render.
type AlignOptions struct {
	Mesh    string // OBJ path or http(s) URL; empty uses the placeholder
	Width   float64
	Depth   float64
	AreaFt2 float64
	Coarse  int // negative takes the configured default
	Fine    int
	Eps     *float64
	House   bool
	Scan    string // store key used as the current transform
	Stride  int
}

// RegisterOptions configure the register command.
type RegisterOptions struct {
	AlignOptions
	Save bool
}

// AutoAlignOptions configure the autoalign command.
type AutoAlignOptions struct {
	Mesh    string
	AreaFt2 float64
	Scan    string
	Save    bool
}

// StatsOptions configure the stats command.
type StatsOptions struct {
	Mesh   string
	Stride int
}

// ProfileOptions configure the profile command.
type ProfileOptions struct {
	Kind    string
	Width   float64
	Depth   float64
	Count   int
	Samples bool
	Output  string
}

// RenderOptions configure the render command.
type RenderOptions struct {
	AlignOptions
	Format string // svg, png, snapshot, html or geojson
	Output string
}

// ServeOptions configure the serve command.
type ServeOptions struct {
	Port int
}

// App encapsulates the application state and dependencies
type App struct {
	Config   *align.Config
	Store    *align.Store
	Outcomes *align.OutcomeTracker
	Pool     *align.Pool
	MQTT     *align.MQTTService
	Logger   *log.Logger

	out io.Writer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Config:   align.DefaultConfig(),
		Store:    align.NewStore(),
		Outcomes: align.NewOutcomeTracker(align.DefaultTrackerCapacity),
		Logger:   log.Default(),
		out:      os.Stdout,
	}
}

// newLogger builds the CLI logger.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// ApplyOptions loads configuration and the alignment store and sets up logging.
func (a *App) ApplyOptions(opts AppOptions) error {
	if opts.Out != nil {
		a.out = opts.Out
	}
	errOut := opts.Err
	if errOut == nil {
		errOut = os.Stderr
	}

	var (
		cfg *align.Config
		err error
	)
	if opts.ConfigSet {
		cfg, err = align.LoadConfig(opts.ConfigFile)
	} else {
		cfg, err = align.LoadConfigOrDefault(opts.ConfigFile)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.Config = cfg

	level := log.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config logLevel: %w", err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}
	a.Logger = newLogger(errOut, level)

	store, err := align.LoadStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("loading alignment store: %w", err)
	}
	a.Store = store
	a.Logger.Debug("configured", "config", opts.ConfigFile, "store", cfg.Store.Path, "scans", len(store.IDs()))
	return nil
}

// Start launches the worker pool and, when a broker is configured, the MQTT
// service.
func (a *App) Start(ctx context.Context) error {
	a.Pool = align.NewPool(ctx, a.Config.Workers, a.Config.Engine.EngineConfig, a.Logger)

	svc, err := align.NewMQTTService(a.Config.MQTT, a.Pool, a.Config.Engine, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if svc != nil {
		a.MQTT = svc
		a.MQTT.Start()
	}
	return nil
}

// Stop shuts down MQTT, drains the pool and persists the store.
func (a *App) Stop() error {
	if a.MQTT != nil {
		a.MQTT.Stop()
	}
	var errs []error
	if a.Pool != nil {
		errs = append(errs, a.Pool.Close())
	}
	errs = append(errs, a.saveStore())
	return errors.Join(errs...)
}

func (a *App) saveStore() error {
	if err := align.SaveStore(a.Config.Store.Path, a.Store); err != nil {
		return fmt.Errorf("saving alignment store: %w", err)
	}
	return nil
}

// runner returns the pool when serving and the engine directly otherwise.
func (a *App) runner() align.Runner {
	if a.Pool != nil {
		return a.Pool
	}
	return align.DirectRunner(a.Config.Engine.EngineConfig)
}

func (a *App) newSession(stride int) *align.Session {
	s := align.NewSession(a.runner(), a.Logger)
	s.Stride = a.Config.Sampler.Stride
	if stride > 0 {
		s.Stride = stride
	}
	return s
}

// recordAlignment stores out under scanID and announces it over MQTT when
// connected.
func (a *App) recordAlignment(scanID string, out *align.AlignOutcome) error {
	a.Store.PutOutcome(scanID, out)
	if err := a.saveStore(); err != nil {
		return err
	}
	if a.MQTT != nil && a.MQTT.IsConnected() {
		saved, _ := a.Store.Get(scanID)
		if err := a.MQTT.Publisher().PublishAlignment(scanID, saved); err != nil {
			a.Logger.Warn("publishing alignment", "scan", scanID, "err", err)
		}
	}
	return nil
}

// meshSource maps a CLI mesh argument to a MeshSource.
func meshSource(ref string) align.MeshSource {
	switch {
	case ref == "":
		return align.PointsSource{}
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return align.URLSource{URL: ref}
	default:
		return align.FileSource{Path: ref}
	}
}

// request builds the session request, taking the current transform from the
// store when a scan id is given.
func (a *App) request(o AlignOptions) align.AlignRequest {
	req := align.AlignRequest{
		TargetAreaFt2:   o.AreaFt2,
		Coarse:          o.Coarse,
		Fine:            o.Fine,
		Eps:             o.Eps,
		UseHouseProfile: o.House,
	}
	if o.Width > 0 && o.Depth > 0 {
		req.TargetDims = &align.Dims{Width: o.Width, Depth: o.Depth}
	}
	if req.Coarse < 0 {
		req.Coarse = a.Config.Engine.Coarse
	}
	if req.Fine < 0 {
		req.Fine = a.Config.Engine.Fine
	}
	req.Eps = a.epsOrDefault(req.Eps)
	if o.Scan != "" {
		current := a.Store.Current(o.Scan)
		req.Current = &current
	}
	return req
}

// epsOrDefault returns eps, or the configured default when it is nil.
func (a *App) epsOrDefault(eps *float64) *float64 {
	if eps != nil {
		return eps
	}
	v := a.Config.Engine.Eps
	return &v
}

func (a *App) alignScan(ctx context.Context, o AlignOptions) (*align.AlignOutcome, error) {
	return a.newSession(o.Stride).AlignSource(ctx, meshSource(o.Mesh), a.request(o))
}

// RunServe runs the HTTP server (and MQTT when configured) until ctx ends.
func (a *App) RunServe(ctx context.Context, opts ServeOptions) error {
	port := a.Config.HTTP.Port
	if opts.Port > 0 {
		port = opts.Port
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown", "err", err)
	}
	return errors.Join(serveErr, a.Stop())
}

// RunRegister aligns one scan and prints the outcome as JSON.
func (a *App) RunRegister(ctx context.Context, opts RegisterOptions) error {
	out, err := a.alignScan(ctx, opts.AlignOptions)
	if err != nil {
		return err
	}
	if opts.Save {
		if opts.Scan == "" {
			return errors.New("--save requires --scan")
		}
		if err := a.recordAlignment(opts.Scan, out); err != nil {
			return err
		}
		a.Logger.Info("alignment saved", "scan", opts.Scan, "transform", out.Applied.Rounded().String())
	}
	return writeJSON(a.out, out)
}

// RunAutoAlign prints the one-shot seed for a mesh.
func (a *App) RunAutoAlign(ctx context.Context, opts AutoAlignOptions) error {
	if opts.AreaFt2 <= 0 {
		return errors.New("--area must be positive")
	}
	current := align.IdentitySeed()
	if opts.Scan != "" {
		current = a.Store.Current(opts.Scan)
	}

	seed, err := a.newSession(0).AutoAlignSource(ctx, meshSource(opts.Mesh), opts.AreaFt2, current)
	if err != nil {
		return err
	}
	seed = seed.Rounded()

	if opts.Save {
		if opts.Scan == "" {
			return errors.New("--save requires --scan")
		}
		a.Store.Put(opts.Scan, align.SavedAlignment{
			Transform: seed,
			Target:    align.TargetDimsFromArea(opts.AreaFt2),
		})
		if err := a.saveStore(); err != nil {
			return err
		}
	}
	return writeJSON(a.out, seed)
}

// RunStats prints the PCA statistics of a mesh.
func (a *App) RunStats(ctx context.Context, opts StatsOptions) error {
	geoms, err := meshSource(opts.Mesh).Geometries(ctx)
	if err != nil {
		return err
	}
	stride := opts.Stride
	if stride < 1 {
		stride = align.DefaultStatsStride
	}
	points := align.SampleGeometries(geoms, stride)
	a.Logger.Debug("sampled", "points", len(points), "stride", stride)
	return writeJSON(a.out, align.ComputeMeshStats(points))
}

// RunProfile writes a target profile as GeoJSON.
func (a *App) RunProfile(_ context.Context, opts ProfileOptions) error {
	kind, err := align.ParseProfileKind(opts.Kind)
	if err != nil {
		return err
	}
	if opts.Width <= 0 || opts.Depth <= 0 {
		return errors.New("--width and --depth must be positive")
	}
	fc := align.ProfileFeatureCollection(
		align.NewTargetProfile(kind, align.Dims{Width: opts.Width, Depth: opts.Depth}, opts.Count),
		opts.Samples,
	)
	return a.withOutput(opts.Output, func(w io.Writer) error {
		return writeJSON(w, fc)
	})
}

// RunRender aligns one scan and renders the outcome.
func (a *App) RunRender(ctx context.Context, opts RenderOptions) error {
	out, err := a.alignScan(ctx, opts.AlignOptions)
	if err != nil {
		return err
	}
	return a.withOutput(opts.Output, func(w io.Writer) error {
		return renderOutcome(w, opts.Format, out)
	})
}

// renderOutcome writes out in the given format.
func renderOutcome(w io.Writer, format string, out *align.AlignOutcome) error {
	switch strings.ToLower(format) {
	case "", "svg":
		return align.NewOverlayRenderer(out).RenderToSVG(w)
	case "png":
		return align.NewOverlayRenderer(out).RenderToPNG(w)
	case "snapshot":
		return align.NewSnapshotRenderer().EncodePNG(w, out)
	case "html":
		return align.RenderReport(w, out)
	case "geojson":
		return writeJSON(w, align.OutcomeFeatureCollection(out, align.DefaultHullTolerance))
	default:
		return fmt.Errorf("unknown render format %q", format)
	}
}

// withOutput runs fn against path, or the app output for "" and "-".
func (a *App) withOutput(path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(a.out)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.Logger.Info("wrote output", "path", path)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
