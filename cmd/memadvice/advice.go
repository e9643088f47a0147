//go:build linux

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srodi/memadvice/pkg/types"
)

func newAdviceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "advice",
		Short: "Take one sample and print the advice as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, adv, cleanup, err := opts.setup()
			if err != nil {
				return err
			}
			defer cleanup()
			return writeAdvice(cmd.OutOrStdout(), adv.GetAdvice(cmd.Context()))
		},
	}
}

func writeAdvice(w io.Writer, advice types.Advice) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(advice); err != nil {
		return fmt.Errorf("encoding advice: %w", err)
	}
	return enc.Close()
}
