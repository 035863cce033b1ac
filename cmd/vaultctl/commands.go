package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	key     string
	chainID int64
	vault   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Signed client for the polyvault daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("VAULTCTL_SERVER", "http://localhost:8080"), "vaultd base URL")
	root.PersistentFlags().StringVar(&opts.key, "key", os.Getenv("VAULTCTL_KEY"), "hex private key used to sign requests")
	root.PersistentFlags().Int64Var(&opts.chainID, "chain-id", 137, "chain id of the signing domain")
	root.PersistentFlags().StringVar(&opts.vault, "vault", "", "vault address of the signing domain (fetched from the server when empty)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		keygenCmd(),
		statusCmd(opts),
		depositCmd(opts),
		exitCmd(opts, "withdraw", "Queue a withdrawal of an asset amount"),
		exitCmd(opts, "redeem", "Queue a redemption of a share amount"),
		processCmd(opts),
		harvestCmd(opts),
	)
	return root
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, addr, err := signer.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey:     0x%s\n", addr.Hex(), key)
			return nil
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the vault status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(opts).R().Get("/v1/vault")
			return printResponse(cmd, resp, err)
		},
	}
}

func depositCmd(opts *options) *cobra.Command {
	var receiver, minShares string
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit assets for shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return signedPost(cmd, opts, "/v1/deposit", model.DepositRequest{
				Amount: args[0], Receiver: receiver, MinShares: minShares,
			})
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "share receiver (defaults to the signer)")
	cmd.Flags().StringVar(&minShares, "min-shares", "", "revert when fewer shares would be minted")
	return cmd
}

func exitCmd(opts *options, name, short string) *cobra.Command {
	var owner, receiver string
	var maxLoss int64
	cmd := &cobra.Command{
		Use:   name + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.ExitRequest{Amount: args[0], Owner: owner, Receiver: receiver}
			if cmd.Flags().Changed("max-loss-bps") {
				req.MaxLossBps = &maxLoss
			}
			return signedPost(cmd, opts, "/v1/"+name, req)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "share owner (defaults to the signer)")
	cmd.Flags().StringVar(&receiver, "receiver", "", "asset receiver (defaults to the signer)")
	cmd.Flags().Int64Var(&maxLoss, "max-loss-bps", 0, "maximum tolerated loss in basis points")
	return cmd
}

func processCmd(opts *options) *cobra.Command {
	var maxCount int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Settle queued withdrawals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return signedPost(cmd, opts, "/v1/queue/process", model.ProcessQueueRequest{MaxCount: maxCount})
		},
	}
	cmd.Flags().IntVar(&maxCount, "max", 0, "maximum requests to settle (server default when 0)")
	return cmd
}

func harvestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Report strategy gains and losses (keeper or owner)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return signedPost(cmd, opts, "/v1/admin/harvest", struct{}{})
		},
	}
}

func newClient(opts *options) *resty.Client {
	return resty.New().
		SetBaseURL(opts.server).
		SetTimeout(opts.timeout).
		SetHeader("Content-Type", "application/json")
}

// signedPost signs the exact body bytes it sends.
func signedPost(cmd *cobra.Command, opts *options, path string, body any) error {
	if opts.key == "" {
		return fmt.Errorf("--key is required")
	}
	client := newClient(opts)
	domain, err := resolveDomain(client, opts)
	if err != nil {
		return err
	}
	s, err := signer.NewSigner(opts.key, domain)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	sig, err := s.SignRequest(signer.NewRequest(s.Address(), "POST", path, ts, raw))
	if err != nil {
		return err
	}
	resp, err := client.R().
		SetHeader(middleware.HeaderCaller, s.Address().Hex()).
		SetHeader(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10)).
		SetHeader(middleware.HeaderSignature, sig).
		SetBody(raw).
		Post(path)
	return printResponse(cmd, resp, err)
}

func resolveDomain(client *resty.Client, opts *options) (signer.Domain, error) {
	if opts.vault != "" {
		if !common.IsHexAddress(opts.vault) {
			return signer.Domain{}, fmt.Errorf("--vault %q is not an address", opts.vault)
		}
		return signer.Domain{ChainID: opts.chainID, Vault: common.HexToAddress(opts.vault)}, nil
	}
	var status struct {
		Address common.Address `json:"address"`
	}
	resp, err := client.R().SetResult(&status).Get("/v1/vault")
	if err != nil {
		return signer.Domain{}, fmt.Errorf("fetch vault address: %w", err)
	}
	if resp.IsError() {
		return signer.Domain{}, fmt.Errorf("fetch vault address: %s", resp.Status())
	}
	return signer.Domain{ChainID: opts.chainID, Vault: status.Address}, nil
}

func printResponse(cmd *cobra.Command, resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(resp.Body()))
	if resp.IsError() {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
