package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmerrifield20/caseledger/internal/identity"
	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/spf13/cobra"
)

var (
	tokenParty string
	tokenRole  string
	tokenTTL   time.Duration
	tokenIss   string
	tokenSave  bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token with the server's shared secret",
	Long: `token signs a session token locally. The secret is read from
AUTH_JWT_SECRET and must match the server's auth.jwt_secret.

  AUTH_JWT_SECRET=... caseledgerctl token --party 7 --role lawyer --save`,
	RunE: runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenParty, "party", "", "party ID the token is issued to")
	f.StringVar(&tokenRole, "role", "", "role: lawyer, client or auditor")
	f.DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	f.StringVar(&tokenIss, "issuer", "caseledger", "token issuer; must match the server's auth.issuer")
	f.BoolVar(&tokenSave, "save", false, "store the token and server URL in the config file")
	_ = tokenCmd.MarkFlagRequired("party")
	_ = tokenCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		return errors.New("AUTH_JWT_SECRET is not set")
	}
	sessions, err := identity.NewSessionIssuer([]byte(secret), tokenIss, tokenTTL)
	if err != nil {
		return err
	}
	tok, err := sessions.Issue(identity.Principal{ID: tokenParty, Role: identity.Role(tokenRole)})
	if err != nil {
		return err
	}

	if !tokenSave {
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	}
	path := cfgFile
	if path == "" {
		if path, err = client.DefaultProfilePath(); err != nil {
			return err
		}
	}
	if err := client.SaveProfile(path, &client.Profile{ServerURL: serverURL, Token: tok}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token for %s (%s) saved to %s\n", tokenParty, tokenRole, path)
	return nil
}
