package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/kardolus/shellpilot/config"
	"github.com/kardolus/shellpilot/internal"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

type app struct {
	out    io.Writer
	errOut io.Writer
	in     io.ReadCloser

	configFile string
	verbose    bool

	manager *config.Manager
}

func main() {
	_ = godotenv.Load()
	internal.InitLogger()

	a := &app{out: os.Stdout, errOut: os.Stderr, in: os.Stdin}
	if err := a.rootCmd().Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   internal.AppName,
		Short: "Run multi-step shell plans on a remote host",
		Long: "shellpilot turns a goal into a plan of shell commands and runs it on a remote session,\n" +
			"gating risky commands behind approval and correcting failures with an LLM.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			internal.SetAllowedLogLevels(internal.LevelsFor(a.verbose)...)

			m, err := config.NewManager(config.WithConfigFile(a.configFile))
			if err != nil {
				return err
			}
			a.manager = m
			return nil
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (default is $SHELLPILOT_CONFIG_HOME/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Print debug logs")

	root.AddCommand(a.runCmd(), a.classifyCmd(), a.historyCmd(), a.configCmd())
	return root
}
