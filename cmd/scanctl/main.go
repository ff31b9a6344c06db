package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/compliance-armada/internal/config"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

var build = "develop"

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "scanctl",
		Short:         "Scan documents against compliance frameworks",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("COMPLIANCE_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "error", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(frameworksCmd(flags))
	rootCmd.AddCommand(rulesCmd(flags))
	rootCmd.AddCommand(scanCmd(flags))

	return rootCmd
}

// open loads the configuration and starts an in-process session.
func open(cmd *cobra.Command, flags *globalFlags) (*session, *config.Config, error) {
	ctx := cmd.Context()
	cfg, err := config.NewLoader(flags.configPath).Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cmd.ErrOrStderr(), logger.ParseLevel(flags.logLevel), "scanctl", nil)

	s, err := newSession(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func frameworksCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "frameworks",
		Short: "List the available compliance frameworks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := open(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			frameworks, err := s.service.ListFrameworks(cmd.Context())
			if err != nil {
				return err
			}
			return printFrameworks(cmd.OutOrStdout(), frameworks)
		},
	}
}

func rulesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rules <framework>",
		Short: "List the rules of a framework",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := open(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			fw, rs, err := s.service.GetFrameworkRules(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRules(cmd.OutOrStdout(), fw, rs)
		},
	}
}

func scanCmd(flags *globalFlags) *cobra.Command {
	var (
		frameworkID string
		userID      string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Scan a plain text or markdown document and print the report",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			switch format {
			case formatText, formatJSON, formatSARIF:
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading document: %w", err)
			}

			s, cfg, err := open(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			return runScan(cmd.Context(), cmd.OutOrStdout(), s, cfg, scanInput{
				userID:      userID,
				frameworkID: frameworkID,
				name:        filepath.Base(args[0]),
				content:     content,
				format:      format,
			})
		},
	}

	cmd.Flags().StringVarP(&frameworkID, "framework", "f", "", "framework ID to scan against")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user ID recorded on the scan")
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format (text, json, sarif)")
	_ = cmd.MarkFlagRequired("framework")

	return cmd
}
