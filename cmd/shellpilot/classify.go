package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/spf13/cobra"
)

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <command>",
		Short: "Show how a command would be risk-classified",
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			if strings.TrimSpace(command) == "" {
				return errors.New("you must specify a command to classify")
			}

			c, err := risk.NewDefaultClassifier(a.manager.Config.RiskLimits())
			if err != nil {
				return err
			}
			r := c.Classify(command)

			fmt.Fprintf(a.out, "%s (%s): %s\n", r.Level, r.Category, r.Reason)
			if r.Warning != "" {
				fmt.Fprintf(a.out, "warning: %s\n", r.Warning)
			}
			if r.NeedsApproval() {
				fmt.Fprintln(a.out, "requires approval")
			}
			return nil
		},
	}
}
