package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	token     string
	cfgFile   string
	insecure  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "caseledgerctl",
	Short: "caseledger command-line client",
	Long: `caseledgerctl talks to a caseledger server.

Lawyers open cases and record work logs, clients accept cases and grant
auditors access, and auditors verify work logs against the case ledger.

Settings are read from ~/.caseledger/config.yaml (server_url, token) and
can be overridden with --server/--token or CASELEDGER_SERVER_URL and
CASELEDGER_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else if path, err := client.DefaultProfilePath(); err == nil {
			viper.AddConfigPath(filepath.Dir(path))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("caseledger")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("read config: %w", err)
			}
		}

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.caseledger/config.yaml)")
	pf.StringVar(&serverURL, "server", "", "caseledger server URL (default http://localhost:8080)")
	pf.StringVar(&token, "token", "", "session token")
	pf.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification (development only)")

	rootCmd.AddCommand(versionCmd)
}

// apiClient builds a client from the resolved flags and config.
func apiClient() (*client.Client, error) {
	if token == "" {
		return nil, errors.New("no session token: pass --token or run 'caseledgerctl token --save'")
	}
	opts := []client.Option{client.WithBearerToken(token)}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	return client.New(serverURL, opts...)
}

// plain decodes the HTML escaping the server applies to free text.
func plain(s string) string {
	return html.UnescapeString(s)
}

// printStructured writes v as JSON or YAML.
func printStructured(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the caseledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "caseledgerctl %s\n", version)
	},
}
