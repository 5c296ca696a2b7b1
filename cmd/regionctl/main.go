// Command regionctl inspects and invalidates the regions an application
// configures.
//
//	regionctl [-config regions.yaml] [-v] list
//	regionctl [-config regions.yaml] invalidate (-region name | -all) [-soft]
//
// Without -config the REGIONCACHE_* environment variables are used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/regioncache"
	"github.com/unkn0wn-root/regioncache/config"
	zaplog "github.com/unkn0wn-root/regioncache/log/zap"
)

var errUsage = errors.New("usage: regionctl [-config file] [-v] list | invalidate (-region name | -all) [-soft]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("regionctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "YAML config file (default: REGIONCACHE_* env)")
	verbose := fs.Bool("v", false, "debug logging")
	timeout := fs.Duration("timeout", 10*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	log, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	c, err := regioncache.New(cfg, regioncache.Options{Logger: zaplog.New(log)})
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd, rest := fs.Arg(0), fs.Args()[1:]; cmd {
	case "list":
		return list(c, stdout)
	case "invalidate":
		return invalidate(ctx, c, rest, stderr)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func list(c *regioncache.Cache, w io.Writer) error {
	for _, name := range c.Regions() {
		r, err := c.Region(name)
		if err != nil {
			return err
		}
		exp := "never"
		if r.Expiration() > 0 {
			exp = r.Expiration().String()
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, exp); err != nil {
			return err
		}
	}
	return nil
}

func invalidate(ctx context.Context, c *regioncache.Cache, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	region := fs.String("region", "", "region to invalidate")
	all := fs.Bool("all", false, "invalidate every region")
	soft := fs.Bool("soft", false, "soft invalidation: keep serving values while they regenerate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *all && *region == "":
		return c.InvalidateAll(ctx, !*soft)
	case !*all && *region != "":
		return c.InvalidateRegion(ctx, *region, !*soft)
	default:
		return errUsage
	}
}
