package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stakeledger/cmd/internal/passphrase"
	"stakeledger/config"
	"stakeledger/native/revenue"
	"stakeledger/services/ledgerd"
)

const (
	tokenCommand   = "token"
	genesisCommand = "genesis"
	configCommand  = "config"
	splitCommand   = "split"
	defaultSecret  = "LEDGERD_HMAC_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case genesisCommand:
		err = runGenesis(os.Args[2:], os.Stdout)
	case configCommand:
		err = runConfig(os.Args[2:], os.Stdout)
	case splitCommand:
		err = runSplit(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledgerctl <command> [flags]

Commands:
  %s    mint a bearer token for ledgerd
  %s  validate a genesis file
  %s   validate a ledgerd configuration file
  %s    preview how an amount is split across buckets
`, tokenCommand, genesisCommand, configCommand, splitCommand)
}

type secretSource interface {
	Get() (string, error)
}

var newSecretSource = func(envVar string) secretSource {
	return passphrase.NewSource(envVar, "ledgerd signing secret")
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller identity placed in the sub claim")
	scopes := fs.String("scope", "", "Comma separated scopes, e.g. ledger.admin")
	issuer := fs.String("issuer", "", "Issuer claim")
	audience := fs.String("audience", "", "Audience claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecret, "Environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	secret, err := newSecretSource(*secretEnv).Get()
	if err != nil {
		return err
	}
	token, err := ledgerd.MintToken(secret, *issuer, *audience, *subject, splitList(*scopes), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runGenesis(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(genesisCommand, flag.ContinueOnError)
	path := fs.String("file", "genesis.toml", "Path to the genesis file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	g, err := config.LoadGenesis(*path)
	if err != nil {
		return err
	}
	var funding uint64
	for _, p := range g.Pools {
		funding += p.RewardFunding
	}
	fmt.Fprintf(out, "genesis ok: %d pools, %d balances, %d reward funding\n", len(g.Pools), len(g.Balances), funding)
	return nil
}

func runConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(configCommand, flag.ContinueOnError)
	path := fs.String("file", "services/ledgerd/config.yaml", "Path to the ledgerd configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := ledgerd.LoadConfig(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config ok: listen %s, storage %s, lock unit %s\n", cfg.ListenAddress, cfg.Storage.Driver, cfg.Ledger.LockUnit.Duration)
	return nil
}

func runSplit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(splitCommand, flag.ContinueOnError)
	amount := fs.Uint64("amount", 0, "Amount to distribute")
	prize := fs.Uint("prize", uint(revenue.DefaultPercentages.Prize), "Prize percentage")
	rev := fs.Uint("revenue", uint(revenue.DefaultPercentages.Revenue), "Revenue share percentage")
	stake := fs.Uint("staking", uint(revenue.DefaultPercentages.Staking), "Staking percentage")
	burn := fs.Uint("burn", uint(revenue.DefaultPercentages.Burn), "Burn percentage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, v := range []uint{*prize, *rev, *stake, *burn} {
		if v > 100 {
			return revenue.ErrInvalidPercentages
		}
	}
	pct := revenue.Percentages{Prize: uint8(*prize), Revenue: uint8(*rev), Staking: uint8(*stake), Burn: uint8(*burn)}
	split, err := revenue.SplitFunds(*amount, pct)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		revenue.Split
		Dust uint64 `json:"dust"`
	}{Split: split, Dust: split.Dust()})
}
