package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hearthlist/wpcache/internal/content"
	"github.com/hearthlist/wpcache/internal/fetch"
	"github.com/hearthlist/wpcache/internal/logger"
)

func newFetchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "Read one logical path through the failover chain and print the result",
		Example: `wpcache fetch "/properties?page=1"
wpcache fetch /pages/about --fallback-origins https://10.0.0.5/wp-json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			raw, err := cmd.Flags().GetBool("raw")
			if err != nil {
				return err
			}

			log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Out: cmd.ErrOrStderr()})
			rt, err := buildRuntime(cmd.Context(), cfg, log, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.service.Read(cmd.Context(), args[0], content.ReadOptions{})
			if err != nil {
				a.printFailure(cmd.OutOrStdout(), err)
				return err
			}
			return a.printResult(cmd.OutOrStdout(), res, raw)
		},
	}
	cmd.Flags().Bool("raw", false, "print only the payload")
	return cmd
}

func (a *app) printResult(out io.Writer, res content.Result, raw bool) error {
	if !raw {
		fmt.Fprintf(out, "%s  %s  %s  key=%s\n", a.p.state(res.State), res.Source, res.Origin, res.Key)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, res.Payload, "", "  "); err != nil {
		_, err = out.Write(res.Payload)
		return err
	}
	pretty.WriteByte('\n')
	_, err := pretty.WriteTo(out)
	return err
}

func (a *app) printFailure(out io.Writer, err error) {
	var failed *fetch.AllOriginsFailedError
	if !errors.As(err, &failed) {
		fmt.Fprintln(out, a.p.Error("%v", err))
		return
	}
	fmt.Fprintln(out, a.p.Error("all origins failed for %s", failed.Path))
	for _, at := range failed.Attempts {
		fmt.Fprintf(out, "  %-8s %s\n", at.Origin.Source, at.Err)
	}
}
