package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ratherlabs/rathervault/internal/config"
	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/logger"
	"github.com/ratherlabs/rathervault/internal/model"
	"github.com/ratherlabs/rathervault/internal/out"
	"github.com/ratherlabs/rathervault/internal/schema"
	"github.com/ratherlabs/rathervault/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	root        *cobra.Command
	flags       config.GlobalFlags
	settings    config.Settings
	log         zerolog.Logger
	journal     *execution.Journal
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if state.journal != nil {
		_ = state.journal.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Owner-operated custodial vault for SushiSwap liquidity mining",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logger.Component(logger.New(settings.LogLevel), "cli")
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain-id", 0, "Chain id (default 1)")
	cmd.PersistentFlags().StringVar(&s.flags.Owner, "owner", "", "Vault owner address")
	cmd.PersistentFlags().Int64Var(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")
	cmd.PersistentFlags().StringVar(&s.flags.Deadline, "deadline", "", "Router deadline window (e.g. 20m)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-transaction confirmation timeout")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.KeySource, "key-source", "", "Owner key source (auto, env, file, keystore)")

	cmd.AddCommand(s.newDepositTokenCommand())
	cmd.AddCommand(s.newDepositETHCommand())
	cmd.AddCommand(s.newWithdrawTokenCommand())
	cmd.AddCommand(s.newWithdrawETHCommand())
	cmd.AddCommand(s.newInvestCommand())
	cmd.AddCommand(s.newDivestCommand())
	cmd.AddCommand(s.newPositionCommand())
	cmd.AddCommand(s.newBalancesCommand())
	cmd.AddCommand(s.newPlansCommand())
	cmd.AddCommand(s.newTransferOwnershipCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	s.root = cmd
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.Describe(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), desc)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
		},
	}
	_ = out.Render(s.runner.stderr, env, mode)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeUnauthorized:
		return "unauthorized"
	case clierr.CodeTransferFailed:
		return "transfer_failed"
	case clierr.CodeInsufficientBalance:
		return "insufficient_balance"
	case clierr.CodeInsufficientStaked:
		return "insufficient_staked_balance"
	case clierr.CodeSlippageExceeded:
		return "slippage_exceeded"
	case clierr.CodeDeadlineExpired:
		return "deadline_expired"
	case clierr.CodeWrapFailed:
		return "wrap_failed"
	case clierr.CodeNothingToInvest:
		return "nothing_to_invest"
	case clierr.CodeUnavailable:
		return "rpc_unavailable"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodePlan:
		return "plan_rejected"
	case clierr.CodeSimulation:
		return "simulation_failed"
	case clierr.CodeTimeout:
		return "confirmation_timeout"
	default:
		return "internal_error"
	}
}

func trimRootPath(path string) string {
	fields := strings.Fields(path)
	if len(fields) <= 1 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}
