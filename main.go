package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Application is the set of actions the CLI dispatches to.
type Application interface {
	ApplyOptions(opts AppOptions) error
	RunServe(ctx context.Context, opts ServeOptions) error
	RunRegister(ctx context.Context, opts RegisterOptions) error
	RunAutoAlign(ctx context.Context, opts AutoAlignOptions) error
	RunStats(ctx context.Context, opts StatsOptions) error
	RunProfile(ctx context.Context, opts ProfileOptions) error
	RunRender(ctx context.Context, opts RenderOptions) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, NewApp()); err != nil {
		stop()
		os.Exit(1)
	}
}

// run builds the command tree and executes args against app.
func run(ctx context.Context, args []string, out, errOut io.Writer, app Application) error {
	root := newRootCmd(app, out, errOut)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func newRootCmd(app Application, out, errOut io.Writer) *cobra.Command {
	var (
		configFile string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "scanalign",
		Short:         "Align room scans to a target footprint",
		Long:          `scanalign fits a scanned floor plan to a rectangular or house-shaped target footprint with scale-aware ICP, and serves the engine over HTTP and MQTT.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.ApplyOptions(AppOptions{
				ConfigFile: configFile,
				ConfigSet:  cmd.Flags().Changed("config"),
				Verbose:    verbose,
				Out:        out,
				Err:        errOut,
			})
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newServeCmd(app))
	root.AddCommand(newRegisterCmd(app))
	root.AddCommand(newAutoAlignCmd(app))
	root.AddCommand(newStatsCmd(app))
	root.AddCommand(newProfileCmd(app))
	root.AddCommand(newRenderCmd(app))
	return root
}

func newServeCmd(app Application) *cobra.Command {
	var opts ServeOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when a broker is configured, the MQTT service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Port, "port", 0, "HTTP port (default from config)")
	return cmd
}

// alignFlags binds the flags shared by register and render.
func alignFlags(cmd *cobra.Command, o *AlignOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.Mesh, "mesh", "m", "", "OBJ mesh path or URL (placeholder rectangle when empty)")
	f.Float64Var(&o.Width, "width", 0, "target width in meters")
	f.Float64Var(&o.Depth, "depth", 0, "target depth in meters")
	f.Float64Var(&o.AreaFt2, "area", 0, "target area in square feet (used when width/depth are not set)")
	f.IntVar(&o.Coarse, "coarse", -1, "coarse ICP iterations (default from config)")
	f.IntVar(&o.Fine, "fine", -1, "fine ICP iterations (default from config)")
	f.Float64Var(new(float64), "eps", 0, "convergence threshold (default from config)")
	f.BoolVar(&o.House, "house", false, "use the house profile with the porch notch")
	f.StringVar(&o.Scan, "scan", "", "scan id in the alignment store")
	f.IntVar(&o.Stride, "stride", 0, "vertex sampling stride (default from config)")
}

// epsFlag copies --eps into o when it was given.
func epsFlag(cmd *cobra.Command, o *AlignOptions) error {
	if !cmd.Flags().Changed("eps") {
		return nil
	}
	eps, err := cmd.Flags().GetFloat64("eps")
	if err != nil {
		return err
	}
	o.Eps = &eps
	return nil
}

func newRegisterCmd(app Application) *cobra.Command {
	var opts RegisterOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Align a scan to a target footprint and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := epsFlag(cmd, &opts.AlignOptions); err != nil {
				return err
			}
			return app.RunRegister(cmd.Context(), opts)
		},
	}
	alignFlags(cmd, &opts.AlignOptions)
	cmd.Flags().BoolVar(&opts.Save, "save", false, "store the applied transform under --scan")
	return cmd
}

func newAutoAlignCmd(app Application) *cobra.Command {
	var opts AutoAlignOptions
	cmd := &cobra.Command{
		Use:   "autoalign",
		Short: "Compute the one-shot seed transform for a mesh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunAutoAlign(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Mesh, "mesh", "m", "", "OBJ mesh path or URL")
	cmd.Flags().Float64Var(&opts.AreaFt2, "area", 0, "target area in square feet")
	cmd.Flags().StringVar(&opts.Scan, "scan", "", "scan id whose stored transform is the current one")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "store the seed under --scan")
	_ = cmd.MarkFlagRequired("mesh")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func newStatsCmd(app Application) *cobra.Command {
	var opts StatsOptions
	cmd := &cobra.Command{
		Use:   "stats <mesh>",
		Short: "Print centroid, principal extents and angle of a mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mesh = args[0]
			return app.RunStats(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Stride, "stride", 0, "vertex sampling stride (default 50)")
	return cmd
}

func newProfileCmd(app Application) *cobra.Command {
	var opts ProfileOptions
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Write a target profile as GeoJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunProfile(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "rectangle", "profile kind: rectangle or house")
	cmd.Flags().Float64Var(&opts.Width, "width", 0, "width in meters")
	cmd.Flags().Float64Var(&opts.Depth, "depth", 0, "depth in meters")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "boundary samples to generate")
	cmd.Flags().BoolVar(&opts.Samples, "samples", false, "include the samples as a MultiPoint feature")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", "output file")
	return cmd
}

func newRenderCmd(app Application) *cobra.Command {
	var opts RenderOptions
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Align a scan and render the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := epsFlag(cmd, &opts.AlignOptions); err != nil {
				return err
			}
			switch opts.Format {
			case "svg", "png", "snapshot", "html", "geojson":
			default:
				return fmt.Errorf("unknown format %q (svg, png, snapshot, html, geojson)", opts.Format)
			}
			return app.RunRender(cmd.Context(), opts)
		},
	}
	alignFlags(cmd, &opts.AlignOptions)
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "svg", "output format: svg, png, snapshot, html or geojson")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "alignment.svg", "output file, - for stdout")
	return cmd
}
