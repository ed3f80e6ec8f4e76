// SPDX-License-Identifier: GPL-2.0-or-later

package commandline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"svgaplayer/bundle"
	"svgaplayer/config"
	"svgaplayer/conlog"
	"svgaplayer/cvar"
	"svgaplayer/cvars"
	"svgaplayer/filesystem"
	"svgaplayer/image"
	"svgaplayer/imagecache"
	"svgaplayer/metrics"
	"svgaplayer/sprite"
)

var _ pflag.Value = (*scaleFlag)(nil)

// scaleFlag only accepts positive finite numbers.
type scaleFlag struct {
	set   bool
	value float32
}

func (s *scaleFlag) Set(v string) error {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return err
	}
	sc := float32(f)
	if !(sc > 0) || math32.IsInf(sc, 0) {
		return errors.Errorf("scale must be positive, got %v", v)
	}
	s.set = true
	s.value = sc
	return nil
}

func (s *scaleFlag) String() string {
	if !s.set {
		return "1"
	}
	return strconv.FormatFloat(float64(s.value), 'f', -1, 32)
}

func (s *scaleFlag) Type() string {
	return "scale"
}

type options struct {
	dirs     []string
	paks     []string
	bundles  []string
	envFile  string
	sets     []string
	archived bool

	scale    scaleFlag
	budget   int64
	logLevel string
	out      string
}

// NewCommand builds the svgaimg command tree writing to out and err.
func NewCommand(out, errOut io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "svgaimg",
		Short: "Inspect and decode the images of sprite animations",
		Long: `svgaimg loads encoded sprite images from directories, pak files and
image bundles, and decodes them on demand within a memory budget.

Examples:
  svgaimg inspect --dir ./assets
  svgaimg decode --bundle movie.bin --scale 2 --budget 1048576 --out ./png`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringSliceVar(&o.dirs, "dir", nil, "directory with images and pak files")
	pf.StringSliceVar(&o.paks, "pak", nil, "pak file with images")
	pf.StringSliceVar(&o.bundles, "bundle", nil, "image bundle, zlib compressed or not")
	pf.StringVar(&o.envFile, "env", "", "env file (default .env)")
	pf.Var(&o.scale, "scale", "device scale factor")
	pf.Int64Var(&o.budget, "budget", 0, "bytes of decoded images to keep")
	pf.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringArrayVar(&o.sets, "set", nil, "set a variable, name=value, see vars")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "List images without decoding them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.inspect(cmd.OutOrStdout())
		},
	}
	decode := &cobra.Command{
		Use:   "decode [key...]",
		Short: "Decode images, all of them if no key is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.decode(args)
		},
	}
	decode.Flags().StringVar(&o.out, "out", "", "write decoded images as png files to this directory")
	vars := &cobra.Command{
		Use:   "vars",
		Short: "List configuration variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.vars(cmd.OutOrStdout())
		},
	}
	vars.Flags().BoolVar(&o.archived, "archived", false, "only list variables that belong to the saved configuration")
	root.AddCommand(inspect, decode, vars)
	return root
}

// Execute runs svgaimg with the process arguments.
func Execute() error {
	return NewCommand(os.Stdout, os.Stderr).Execute()
}

// setup layers the configuration: defaults, env file and environment,
// then flags.
func (o *options) setup(cmd *cobra.Command) error {
	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	cfg.Apply()

	fl := cmd.Flags()
	if fl.Changed("scale") {
		cvars.ImageScale.SetValue(o.scale.value)
	}
	if fl.Changed("budget") {
		cvars.ImageCacheBudget.SetByString(strconv.FormatInt(o.budget, 10))
	}
	if fl.Changed("log-level") {
		cvars.LogLevel.SetByString(o.logLevel)
	}
	for _, kv := range o.sets {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return errors.Errorf("--set %q is not name=value", kv)
		}
		if err := cvar.Set(name, value); err != nil {
			return err
		}
	}
	if err := conlog.Setup(cmd.ErrOrStderr(), cvars.LogLevel.String()); err != nil {
		return errors.Wrap(err, "log level")
	}
	w := cmd.OutOrStdout()
	conlog.SetPrintf(func(format string, v ...interface{}) {
		fmt.Fprintf(w, format, v...)
	})
	return nil
}

// load collects the encoded images of all sources. Later sources win on
// duplicate keys.
func (o *options) load() (map[string][]byte, error) {
	images := make(map[string][]byte)
	if len(o.dirs)+len(o.paks) > 0 {
		fsys := filesystem.New()
		defer fsys.Close()
		names := make(map[string]bool)
		for _, d := range o.dirs {
			if err := fsys.Mount(d); err != nil {
				return nil, errors.Wrapf(err, "mount %s", d)
			}
			if err := looseFiles(d, names); err != nil {
				return nil, err
			}
		}
		for _, p := range o.paks {
			if err := fsys.MountPack(p); err != nil {
				return nil, errors.Wrapf(err, "mount %s", p)
			}
		}
		for _, p := range fsys.Packs() {
			for _, n := range p.Names() {
				names[n] = true
			}
		}
		for n := range names {
			data, err := fsys.ReadFile(n)
			if err != nil {
				return nil, errors.Wrapf(err, "read %s", n)
			}
			if len(data) == 0 || image.Sniff(data) == "" {
				continue
			}
			images[filesystem.StripExt(n)] = data
		}
	}
	for _, name := range o.bundles {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		b, err := bundle.Read(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		for _, k := range b.Keys() {
			d, _ := b.Data(k)
			if len(d) > 0 {
				images[k] = d
			}
		}
	}
	return images, nil
}

func looseFiles(dir string, names map[string]bool) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filesystem.Ext(path) == ".pak" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names[filepath.ToSlash(rel)] = true
		return nil
	})
}

func (o *options) cache(reg *metrics.Registry) (*imagecache.Cache, error) {
	images, err := o.load()
	if err != nil {
		return nil, err
	}
	c := imagecache.New(
		imagecache.WithBudget(cvars.ImageCacheBudget.Int64()),
		imagecache.WithMetrics(reg),
		imagecache.WithLogger(conlog.Logger()),
	)
	scale := cvars.ImageScale.Value()
	for _, k := range sortedKeys(images) {
		if err := c.Add(k, images[k], scale); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *options) inspect(w io.Writer) error {
	c, err := o.cache(nil)
	if err != nil {
		return err
	}
	keys := c.Keys()
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "KEY\tFORMAT\tBYTES\tSCALE\n")
	for _, k := range keys {
		img, _ := c.Image(k)
		f := img.Format()
		if f == "" {
			f = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", k, f, img.EncodedLen(), img.Scale())
	}
	return tw.Flush()
}

func (o *options) decode(keys []string) error {
	reg := metrics.NewRegistry()
	c, err := o.cache(reg)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		keys = c.Keys()
		sort.Strings(keys)
	}
	if o.out != "" {
		if err := os.MkdirAll(o.out, 0o755); err != nil {
			return err
		}
	}
	failed := 0
	for _, k := range keys {
		if _, ok := c.Image(k); !ok {
			return errors.Wrapf(imagecache.ErrNotFound, "%q", k)
		}
		e := sprite.Entity{ImageKey: k}
		l, ok := e.RequestLayer(c.Handle(k))
		if !ok {
			conlog.Printf("%s: decode failed\n", k)
			failed++
			continue
		}
		w, h := l.Bitmap.Size()
		conlog.Printf("%s: %dx%d px, %vx%v pt\n", k, l.Bitmap.Width, l.Bitmap.Height, w, h)
		if o.out != "" {
			name := filepath.Join(o.out, filepath.FromSlash(k)+".png")
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return err
			}
			if err := image.Write(name, l.Bitmap); err != nil {
				return err
			}
		}
	}
	s := c.Stats()
	conlog.Printf("%d images, %d decoded, %d bytes encoded, %d bytes resident\n",
		s.Entries, s.Decoded, s.EncodedBytes, s.ResidentBytes)
	conlog.Printf("%d decodes, %d failures, %d evictions\n",
		reg.Value(metrics.Decodes, nil), reg.Value(metrics.DecodeFailures, nil), reg.Value(metrics.Evictions, nil))
	if failed > 0 {
		return errors.Errorf("%d of %d images failed to decode", failed, len(keys))
	}
	return nil
}

func (o *options) vars(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tVALUE\tDEFAULT\tFLAGS\n")
	for _, cv := range cvar.All() {
		if o.archived && !cv.Archive() {
			continue
		}
		flags := "-"
		if cv.Archive() {
			flags = "archive"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cv.Name(), cv.String(), cv.Default(), flags)
	}
	return tw.Flush()
}
