// cmd/seed creates a demo case through the public API: a lawyer opens a case,
// the client accepts it, a few work logs are recorded and one is edited, and
// an auditor is granted access and verifies the case.
//
// Tokens are minted locally, so the seed tool needs the server's session
// secret:
//
//	AUTH_JWT_SECRET=... go run ./cmd/seed --server http://localhost:8080
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmerrifield20/caseledger/internal/identity"
	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type seedLog struct {
	Description string
	Minutes     int
}

var demoLogs = []seedLog{
	{"Initial consultation with client", 60},
	{"Reviewed lease agreement and prior correspondence", 45},
	{"Drafted demand letter to landlord", 90},
	{"Phone call with opposing counsel", 20},
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo case through the caseledger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "caseledger server URL")
	f.String("lawyer", "lawyer_1", "lawyer party ID")
	f.String("client", "client_1", "client party ID")
	f.String("auditor", "auditor_1", "auditor party ID")
	f.String("issuer", "caseledger", "session token issuer")

	_ = viper.BindPFlags(f)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("secret", "AUTH_JWT_SECRET")
	return cmd
}

func run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	sessions, err := identity.NewSessionIssuer([]byte(viper.GetString("secret")), viper.GetString("issuer"), time.Hour)
	if err != nil {
		return fmt.Errorf("AUTH_JWT_SECRET: %w", err)
	}
	server := viper.GetString("server")
	as := func(id string, role identity.Role) (*client.Client, error) {
		tok, err := sessions.Issue(identity.Principal{ID: id, Role: role})
		if err != nil {
			return nil, err
		}
		return client.New(server, client.WithBearerToken(tok))
	}

	lawyerID, clientID, auditorID := viper.GetString("lawyer"), viper.GetString("client"), viper.GetString("auditor")
	lawyer, err := as(lawyerID, identity.RoleLawyer)
	if err != nil {
		return err
	}
	party, err := as(clientID, identity.RoleClient)
	if err != nil {
		return err
	}
	auditor, err := as(auditorID, identity.RoleAuditor)
	if err != nil {
		return err
	}

	cs, err := lawyer.CreateCase(ctx, clientID, "Tenancy deposit dispute")
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	fmt.Fprintf(out, "  case    %s\n", cs.ID)

	if _, err := party.SetStatus(ctx, cs.ID, "active", "", "engagement letter signed"); err != nil {
		return fmt.Errorf("activate case: %w", err)
	}

	var first *client.ProgressLog
	for _, l := range demoLogs {
		entry, err := lawyer.AddLog(ctx, cs.ID, l.Description, l.Minutes)
		if err != nil {
			return fmt.Errorf("add log: %w", err)
		}
		if first == nil {
			first = entry
		}
		fmt.Fprintf(out, "  log     %s  %3d min  %s\n", entry.ID, entry.TimeSpent, entry.Description)
	}

	edited, err := lawyer.EditLog(ctx, cs.ID, first.ID, "Initial consultation with client and landlord's agent", 75)
	if err != nil {
		return fmt.Errorf("edit log: %w", err)
	}
	fmt.Fprintf(out, "  edit    %s -> %s (v%d)\n", first.ID, edited.ID, edited.Version)

	if _, err := lawyer.SetStatus(ctx, cs.ID, "in_progress", "", "evidence gathering"); err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	if _, err := party.GrantAccess(ctx, cs.ID, auditorID, 72); err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	report, err := auditor.VerifyCase(ctx, cs.ID)
	if err != nil {
		return fmt.Errorf("verify case: %w", err)
	}
	fmt.Fprintf(out, "  verify  %s verified=%t logs=%d mismatches=%d\n", cs.ID, report.Verified, report.Logs, report.Mismatch)

	fmt.Fprintln(out, "\nseed complete")
	return nil
}
