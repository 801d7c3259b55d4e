package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"stakeledger/native/revenue"
)

type fixedSecret string

func (s fixedSecret) Get() (string, error) { return string(s), nil }

func TestRunTokenMintsVerifiableToken(t *testing.T) {
	orig := newSecretSource
	newSecretSource = func(string) secretSource { return fixedSecret("cli-secret") }
	t.Cleanup(func() { newSecretSource = orig })

	var out bytes.Buffer
	require.NoError(t, runToken([]string{"-subject", "admin", "-scope", "ledger.admin, ops", "-issuer", "stakeledger"}, &out))

	raw := strings.TrimSpace(out.String())
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return []byte("cli-secret"), nil })
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, "admin", claims["sub"])
	require.Equal(t, "stakeledger", claims["iss"])
	require.Equal(t, "ledger.admin ops", claims["scope"])

	require.Error(t, runToken([]string{"-subject", ""}, &out))
	require.Error(t, runToken([]string{"-subject", "a", "-ttl", "0s"}, &out))
}

func TestRunGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	body := "[[Balances]]\nAsset = \"native\"\nAccount = \"a\"\nAmount = 10\n\n[[Pools]]\nAdmin = \"a\"\nAsset = \"native\"\nKind = \"native\"\nRewardFunding = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out bytes.Buffer
	require.NoError(t, runGenesis([]string{"-file", path}, &out))
	require.Contains(t, out.String(), "1 pools, 1 balances, 5 reward funding")

	require.Error(t, runGenesis([]string{"-file", filepath.Join(t.TempDir(), "missing.toml")}, &out))
}

func TestRunSplit(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSplit([]string{"-amount", "101"}, &out))
	var got struct {
		revenue.Split
		Dust uint64 `json:"dust"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, uint64(40), got.Prize)
	require.Equal(t, uint64(50), got.Revenue)
	require.Equal(t, uint64(5), got.Staking)
	require.Equal(t, uint64(5), got.Burn)
	require.Equal(t, uint64(1), got.Dust)

	require.ErrorIs(t, runSplit([]string{"-amount", "1", "-prize", "300"}, &out), revenue.ErrInvalidPercentages)
	require.ErrorIs(t, runSplit([]string{"-amount", "1", "-burn", "6"}, &out), revenue.ErrInvalidPercentages)
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	require.Nil(t, splitList(""))
}
