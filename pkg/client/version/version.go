// Copyright (c) OpenMMLab. All rights reserved.

package version

import (
	"encoding/json"
	"fmt"

	v "github.com/oliverbrowneprima/dogtail/pkg/version"

	"github.com/spf13/cobra"
)

func NewCmdVersion() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print dogtail version information",
		Long: `Print dogtail version information.
Usage:
  dogtail version [--json]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := v.GetStructuredVersion()
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "The dogtail version information is as follows:")
			fmt.Fprint(cmd.OutOrStdout(), v.FormatVersionInfo(info))
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print version information as JSON")
	return cmd
}
