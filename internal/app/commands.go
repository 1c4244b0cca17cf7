package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/ratherlabs/rathervault/internal/config"
	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/execution/signer"
	"github.com/ratherlabs/rathervault/internal/id"
	"github.com/ratherlabs/rathervault/internal/logger"
	"github.com/ratherlabs/rathervault/internal/model"
	"github.com/ratherlabs/rathervault/internal/vault"
)

func parseAddress(raw, what string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if !common.IsHexAddress(clean) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid %s address: %s", what, raw))
	}
	return common.HexToAddress(clean), nil
}

func (s *runtimeState) ownerAddress(signers execution.Signers) (common.Address, error) {
	if strings.TrimSpace(s.settings.Owner) != "" {
		return parseAddress(s.settings.Owner, "owner")
	}
	// No configured owner means the key holder bootstraps ownership, the
	// same way a deployer starts as owner.
	if signers.Owner != nil {
		return signers.Owner.Address(), nil
	}
	return common.Address{}, clierr.New(clierr.CodeUsage, "no owner configured")
}

func (s *runtimeState) vaultConfig(owner common.Address) vault.Config {
	return vault.Config{
		ChainID:     s.settings.ChainID,
		RPCURL:      s.settings.RPCURL,
		Owner:       owner,
		Contracts:   s.settings.Contracts,
		Pools:       s.settings.Pools,
		SlippageBps: s.settings.SlippageBps,
		Deadline:    s.settings.Deadline,
		Timeout:     s.settings.Timeout,
	}
}

func (s *runtimeState) openJournal() (*execution.Journal, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	journal, err := execution.OpenJournal(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open plan journal", err)
	}
	s.journal = journal
	return journal, nil
}

func (s *runtimeState) dial(ctx context.Context) (*ethclient.Client, error) {
	if strings.TrimSpace(s.settings.RPCURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "no rpc url configured; provide --rpc-url")
	}
	client, err := ethclient.DialContext(ctx, s.settings.RPCURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

// buildVault wires a fully signing vault for mutating commands.
func (s *runtimeState) buildVault(ctx context.Context) (*vault.Vault, func(), error) {
	ownerSigner, err := signer.NewOwnerSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeSigner, "load owner key", err)
	}
	signers := execution.Signers{Owner: ownerSigner}
	vaultSigner, err := signer.NewVaultSignerFromEnv()
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeSigner, "load vault key", err)
	}
	if vaultSigner != nil {
		signers.Vault = vaultSigner
	}
	owner, err := s.ownerAddress(signers)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	journal, err := s.openJournal()
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	v := vault.New(s.vaultConfig(owner), logger.Component(s.log, "vault"), client, signers, journal)
	return v, client.Close, nil
}

// addressOnlySigner lets read-only commands run without any key material.
type addressOnlySigner struct {
	addr common.Address
}

func (s addressOnlySigner) Address() common.Address { return s.addr }
func (s addressOnlySigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return nil, fmt.Errorf("account %s is read-only", s.addr.Hex())
}

// readVault wires a vault for read-only commands: a real signer when one is
// available, otherwise just the configured addresses.
func (s *runtimeState) readVault(ctx context.Context) (*vault.Vault, func(), error) {
	signers := execution.Signers{}
	if ownerSigner, err := signer.NewOwnerSignerFromEnv(s.settings.KeySource); err == nil {
		signers.Owner = ownerSigner
	}
	if vaultSigner, err := signer.NewVaultSignerFromEnv(); err == nil && vaultSigner != nil {
		signers.Vault = vaultSigner
	}
	if signers.VaultAddress() == (common.Address{}) {
		account := firstNonEmpty(s.settings.VaultAccount, s.settings.Owner)
		if account == "" {
			return nil, nil, clierr.New(clierr.CodeUsage, "no vault account known; configure owner or vault_account")
		}
		addr, err := parseAddress(account, "vault account")
		if err != nil {
			return nil, nil, err
		}
		signers.Vault = addressOnlySigner{addr: addr}
	}
	owner := common.Address{}
	if addr, err := s.ownerAddress(signers); err == nil {
		owner = addr
	}
	client, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	v := vault.New(s.vaultConfig(owner), logger.Component(s.log, "vault"), client, signers, nil)
	return v, client.Close, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func addAmountFlags(cmd *cobra.Command, base, decimal *string, unit string) {
	cmd.Flags().StringVar(base, "amount", "", fmt.Sprintf("Amount in base units (%s)", unit))
	cmd.Flags().StringVar(decimal, "amount-decimal", "", "Amount in decimal units")
}

func (s *runtimeState) newDepositTokenCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "deposit-token <token>",
		Short: "Move ERC-20 tokens from the owner account into the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := parseAddress(args[0], "token")
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			amount, err := s.resolveTokenAmount(cmd.Context(), v, token, amountBase, amountDecimal)
			if err != nil {
				return err
			}
			report, err := v.DepositToken(cmd.Context(), token, amount)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	addAmountFlags(cmd, &amountBase, &amountDecimal, "token base units")
	return cmd
}

func (s *runtimeState) newDepositETHCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "deposit-eth",
		Short: "Wrap owner ETH into WETH held by the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := id.ParseAmount(amountBase, amountDecimal, 18)
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := v.DepositETH(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	addAmountFlags(cmd, &amountBase, &amountDecimal, "wei")
	return cmd
}

func (s *runtimeState) newWithdrawTokenCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "withdraw-token <token>",
		Short: "Send vault tokens back to the owner account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := parseAddress(args[0], "token")
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			amount, err := s.resolveTokenAmount(cmd.Context(), v, token, amountBase, amountDecimal)
			if err != nil {
				return err
			}
			report, err := v.WithdrawToken(cmd.Context(), token, amount)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	addAmountFlags(cmd, &amountBase, &amountDecimal, "token base units")
	return cmd
}

func (s *runtimeState) newWithdrawETHCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "withdraw-eth",
		Short: "Unwrap vault WETH and send the ETH to the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := id.ParseAmount(amountBase, amountDecimal, 18)
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := v.WithdrawETH(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	addAmountFlags(cmd, &amountBase, &amountDecimal, "wei")
	return cmd
}

func (s *runtimeState) newInvestCommand() *cobra.Command {
	var variantArg string
	cmd := &cobra.Command{
		Use:   "invest <tokenA> <tokenB>",
		Short: "Supply the vault's whole pair balances as liquidity and stake the LP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenA, err := parseAddress(args[0], "tokenA")
			if err != nil {
				return err
			}
			tokenB, err := parseAddress(args[1], "tokenB")
			if err != nil {
				return err
			}
			variant, err := vault.ParseChefVariant(variantArg)
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := v.Invest(cmd.Context(), tokenA, tokenB, variant)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	cmd.Flags().StringVar(&variantArg, "variant", "v1", "MasterChef version (v1 or v2)")
	return cmd
}

func (s *runtimeState) newDivestCommand() *cobra.Command {
	var variantArg string
	cmd := &cobra.Command{
		Use:   "divest <tokenA> <tokenB>",
		Short: "Unstake the whole position, harvest rewards and burn the LP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenA, err := parseAddress(args[0], "tokenA")
			if err != nil {
				return err
			}
			tokenB, err := parseAddress(args[1], "tokenB")
			if err != nil {
				return err
			}
			variant, err := vault.ParseChefVariant(variantArg)
			if err != nil {
				return err
			}
			v, cleanup, err := s.buildVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := v.Divest(cmd.Context(), tokenA, tokenB, variant)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	cmd.Flags().StringVar(&variantArg, "variant", "v1", "MasterChef version (v1 or v2)")
	return cmd
}

func (s *runtimeState) newPositionCommand() *cobra.Command {
	var variantArg string
	cmd := &cobra.Command{
		Use:   "position <poolAddress>",
		Short: "Report the vault's staked LP for a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := parseAddress(args[0], "pool")
			if err != nil {
				return err
			}
			variant, err := vault.ParseChefVariant(variantArg)
			if err != nil {
				return err
			}
			v, cleanup, err := s.readVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			position, err := v.Position(cmd.Context(), variant, pool)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), position)
		},
	}
	cmd.Flags().StringVar(&variantArg, "variant", "v1", "MasterChef version (v1 or v2)")
	return cmd
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances [tokens...]",
		Short: "Report the vault's live native, WETH and token balances",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := make([]common.Address, 0, len(args))
			for _, arg := range args {
				token, err := parseAddress(arg, "token")
				if err != nil {
					return err
				}
				tokens = append(tokens, token)
			}
			v, cleanup, err := s.readVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := v.Balances(cmd.Context(), tokens)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report)
		},
	}
	return cmd
}

func (s *runtimeState) newPlansCommand() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List recently executed plans from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			plans, err := journal.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list plans", err)
			}
			reports := make([]model.PlanReport, 0, len(plans))
			for _, plan := range plans {
				reports = append(reports, vault.ReportFromPlan(plan))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), reports)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by plan status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of plans")
	return cmd
}

func (s *runtimeState) newTransferOwnershipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer-ownership <address>",
		Short: "Hand the vault to a new owner address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newOwner, err := parseAddress(args[0], "new owner")
			if err != nil {
				return err
			}
			if newOwner == (common.Address{}) {
				return clierr.New(clierr.CodeUsage, "new owner must not be the zero address")
			}
			ownerSigner, err := signer.NewOwnerSignerFromEnv(s.settings.KeySource)
			if err != nil {
				return clierr.Wrap(clierr.CodeSigner, "load owner key", err)
			}
			current, err := s.ownerAddress(execution.Signers{Owner: ownerSigner})
			if err != nil {
				return err
			}
			if ownerSigner.Address() != current {
				return clierr.New(clierr.CodeUnauthorized, fmt.Sprintf(
					"signer %s is not the vault owner %s", ownerSigner.Address().Hex(), current.Hex(),
				))
			}
			path, err := config.SetOwner(s.flags.ConfigPath, newOwner.Hex())
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "rewrite owner", err)
			}
			s.log.Info().Str("previous", current.Hex()).Str("next", newOwner.Hex()).Msg("ownership transferred")
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]string{
				"previous_owner": current.Hex(),
				"new_owner":      newOwner.Hex(),
				"config_path":    path,
			})
		},
	}
	return cmd
}

func (s *runtimeState) resolveTokenAmount(ctx context.Context, v *vault.Vault, token common.Address, base, decimal string) (*big.Int, error) {
	decimals := 18
	if strings.TrimSpace(decimal) != "" {
		d, err := v.TokenDecimals(ctx, token)
		if err != nil {
			return nil, err
		}
		decimals = d
	}
	return id.ParseAmount(base, decimal, decimals)
}
