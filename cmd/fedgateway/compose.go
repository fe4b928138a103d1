package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	compose "github.com/hanpama/fedgateway/internal/compose"
	config "github.com/hanpama/fedgateway/internal/config"
	schema "github.com/hanpama/fedgateway/internal/schema"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

func newComposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose [service=file.graphql ...]",
		Short: "Compose service SDLs and print the composed schema",
		Long: `Compose merges the SDL of every service and prints the composed schema
with its federation directives. Without arguments the services of the
configuration file are used, fetching the SDL of those without a static
schema. Composition violations are printed and the command fails.

Example:
  fedgateway compose accounts=accounts.graphql reviews=reviews.graphql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sch, err := composeServices(cmd, args)
			if err != nil {
				return err
			}
			out := schema.Render(sch, schema.WithFederation())
			if file, _ := cmd.Flags().GetString("out"); file != "" {
				return os.WriteFile(file, []byte(out), 0o644)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringP("out", "o", "", "Write composed SDL to file (default: stdout)")
	return cmd
}

// composeServices composes the SDL files named by args, or the configured
// services when args is empty.
func composeServices(cmd *cobra.Command, args []string) (*schema.Schema, error) {
	var sdls map[string]string
	var err error
	if len(args) > 0 {
		sdls, err = readSDLFiles(args)
	} else {
		sdls, err = configuredSDLs(cmd)
	}
	if err != nil {
		return nil, err
	}
	sch, err := compose.Compose(sdls)
	if err != nil {
		return nil, fmt.Errorf("composition failed:\n%w", err)
	}
	return sch, nil
}

func readSDLFiles(args []string) (map[string]string, error) {
	sdls := make(map[string]string, len(args))
	for _, arg := range args {
		name, path, ok := strings.Cut(arg, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid service %q, want name=file", arg)
		}
		if _, dup := sdls[name]; dup {
			return nil, fmt.Errorf("duplicate service %q", name)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sdls[name] = string(b)
	}
	return sdls, nil
}

func configuredSDLs(cmd *cobra.Command) (map[string]string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no services configured")
	}

	tr := subgraph.New()
	defer tr.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Gateway.FetchTimeout)
	defer cancel()
	sdls := make([]string, len(descriptors))
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		if d.SDL != "" {
			sdls[i] = d.SDL
			continue
		}
		g.Go(func() error {
			sdl, err := tr.FetchSDL(ctx, d.URL)
			if err != nil {
				return fmt.Errorf("service %q: %w", d.Name, err)
			}
			sdls[i] = sdl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(descriptors))
	for i, d := range descriptors {
		out[d.Name] = sdls[i]
	}
	return out, nil
}
