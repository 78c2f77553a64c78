// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AleutianAI/lrot/services/adjustments"
	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/functions"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/variance"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// cliOptions holds the persistent flag values.
type cliOptions struct {
	server  string
	timeout time.Duration
	rawJSON bool
}

func (o *cliOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "lrot",
		Short:        "Operations assistant for the liquidity reporting batch",
		SilenceUsage: true,
	}

	server := os.Getenv("LROT_SERVER_URL")
	if server == "" {
		server = defaultServerURL
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "lrot-server base URL (env LROT_SERVER_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.rawJSON, "json", false, "Print the raw result JSON")

	root.AddCommand(
		newFunctionsCmd(opts),
		newCallCmd(opts),
		newStatusCmd(opts),
		newVarianceCmd(opts),
		newRemainingCmd(opts),
		newSyncCmd(opts),
	)
	return root
}

func newFunctionsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the functions the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := opts.client().definitions(cmd.Context())
			if err != nil {
				return err
			}
			if opts.rawJSON {
				return writeJSON(cmd.OutOrStdout(), defs)
			}
			renderDefinitions(cmd.OutOrStdout(), newPainter(cmd.OutOrStdout()), defs)
			return nil
		},
	}
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	var args string
	cmd := &cobra.Command{
		Use:   "call <function>",
		Short: "Call any function with a JSON argument object and print the envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			env, err := opts.client().callRaw(cmd.Context(), pos[0], []byte(args))
			var cerr *callError
			if err != nil && !errors.As(err, &cerr) {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), env); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&args, "args", "{}", "Argument object as JSON")
	return cmd
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var date, table string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show FR2052a process status and runtime predictions for a COB date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := map[string]string{"cob_date": date}
			if table != "" {
				args["table_name"] = table
			}
			var report prediction.StatusReport
			if done, err := callInto(cmd, opts, functions.NameProcessStatus, args, &report); done || err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), newPainter(cmd.OutOrStdout()), &report)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format(time.DateOnly), "COB date")
	cmd.Flags().StringVar(&table, "table", "", "Restrict to one table by name or identifier")
	return cmd
}

func newVarianceCmd(opts *cliOptions) *cobra.Command {
	var date1, date2, products string
	cmd := &cobra.Command{
		Use:   "variance",
		Short: "Investigate SLS line variance between two dates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := map[string]string{"date1": date1, "date2": date2}
			if products != "" {
				args["product_identifiers"] = products
			}
			var inv variance.Investigation
			if done, err := callInto(cmd, opts, functions.NameVariance, args, &inv); done || err != nil {
				return err
			}
			renderInvestigation(cmd.OutOrStdout(), newPainter(cmd.OutOrStdout()), &inv)
			return nil
		},
	}
	cmd.Flags().StringVar(&date1, "date1", "", "Earlier date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&date2, "date2", "", "Later date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&products, "products", "", "Comma-separated product identifiers")
	_ = cmd.MarkFlagRequired("date1")
	_ = cmd.MarkFlagRequired("date2")
	return cmd
}

func newRemainingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remaining",
		Short: "Time left until the business end of day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r eod.Remaining
			if done, err := callInto(cmd, opts, functions.NameTimeRemaining, struct{}{}, &r); done || err != nil {
				return err
			}
			renderRemaining(cmd.OutOrStdout(), newPainter(cmd.OutOrStdout()), &r)
			return nil
		},
	}
}

func newSyncCmd(opts *cliOptions) *cobra.Command {
	var adjType, ids string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger an adjustment sync for DMAT IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res adjustments.Result
			args := map[string]string{"adjustment_type": adjType, "dmat_ids": ids}
			if done, err := callInto(cmd, opts, functions.NameSyncAdjustments, args, &res); done || err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&adjType, "type", adjustments.TypeMDU, "MDU or MSDU")
	cmd.Flags().StringVar(&ids, "ids", "", "Comma-separated DMAT IDs")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

// callInto calls name and decodes a successful result into out. With
// --json the raw result is printed instead and done is true.
func callInto(cmd *cobra.Command, opts *cliOptions, name string, args, out any) (done bool, err error) {
	env, err := opts.client().call(cmd.Context(), name, args)
	if err != nil {
		return true, err
	}
	if opts.rawJSON {
		return true, writeJSON(cmd.OutOrStdout(), env.Result)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return true, fmt.Errorf("decoding %s result: %w", name, err)
	}
	return false, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
