package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/secure-knaight/governance-core/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sckctl",
	Short: "Secure Knaight governance CLI",
	Long: `sckctl is the command-line interface for the Secure Knaight governance core.

It lets you open approval requests, cast facet votes, inspect the trust
ledger, check active policy bundles, and manage gateway tokens against a
running governance server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.sck")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sck/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "governance server URL (default http://localhost:8080)")

	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── approve ──────────────────────────────────────────────────────────────────

var (
	approveOrg      string
	approveType     string
	approveLoa      int
	approveFacets   []string
	approvePriority string
	approveAs       string
	approveReason   string
)

var approveCmd = &cobra.Command{
	Use:   "approve <artifact-id>",
	Short: "Open an approval request for an artifact",
	Long: `approve opens a new approval request and prints its ID and the facets
that must each be signed off before the artifact is considered approved:

  sckctl approve agent-billing-7 --org acme --type ROLE_AGENT --loa 3 --as alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		req, err := c.CreateApproval(context.Background(), client.CreateApprovalInput{
			OrganizationID: approveOrg,
			ArtifactID:     args[0],
			ArtifactType:   approveType,
			LoaLevel:       approveLoa,
			RequiredFacets: approveFacets,
			Priority:       approvePriority,
			RequestorID:    approveAs,
			RequestReason:  approveReason,
		})
		if err != nil {
			return fmt.Errorf("create approval: %w", err)
		}

		fmt.Printf("✓ Approval request opened\n\n")
		fmt.Printf("  ID:     %s\n", req.ID)
		fmt.Printf("  Status: %s\n", req.Status)
		fmt.Printf("  Facets: %v\n\n", req.RequiredFacets)
		fmt.Printf("Next: sckctl vote %s --facet <facet> --as <reviewer> --decision APPROVE\n", req.ID)
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveOrg, "org", "", "Organization ID")
	approveCmd.Flags().StringVar(&approveType, "type", "ROLE_AGENT", "Artifact type (ROLE_AGENT, RESOURCE, POLICY_BUNDLE)")
	approveCmd.Flags().IntVar(&approveLoa, "loa", 0, "Requested level of assurance (1-5)")
	approveCmd.Flags().StringSliceVar(&approveFacets, "facets", nil, "Override required facets (default from the org's LoA policy)")
	approveCmd.Flags().StringVar(&approvePriority, "priority", "", "Priority (LOW, MEDIUM, HIGH, CRITICAL)")
	approveCmd.Flags().StringVar(&approveAs, "as", "", "Requestor ID")
	approveCmd.Flags().StringVar(&approveReason, "reason", "", "Free-form request reason")

	_ = approveCmd.MarkFlagRequired("org")
	_ = approveCmd.MarkFlagRequired("loa")
	_ = approveCmd.MarkFlagRequired("as")
}

// ── vote ─────────────────────────────────────────────────────────────────────

var (
	voteFacet    string
	voteAs       string
	voteDecision string
	voteComment  string
)

var voteCmd = &cobra.Command{
	Use:   "vote <request-id>",
	Short: "Cast a facet vote on an approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		result, err := c.SubmitVote(context.Background(), args[0], voteFacet, voteAs, voteDecision, voteComment)
		if err != nil {
			return fmt.Errorf("submit vote: %w", err)
		}

		fmt.Printf("✓ Vote recorded: %s on %s\n", voteDecision, voteFacet)
		fmt.Printf("  Request status: %s\n", result.Request.Status)
		if result.Decided {
			fmt.Printf("  This vote decided the request.\n")
		}
		return nil
	},
}

func init() {
	voteCmd.Flags().StringVar(&voteFacet, "facet", "", "Facet to vote on (e.g. security, compliance)")
	voteCmd.Flags().StringVar(&voteAs, "as", "", "Reviewer ID")
	voteCmd.Flags().StringVar(&voteDecision, "decision", "", "APPROVE or REJECT")
	voteCmd.Flags().StringVar(&voteComment, "comment", "", "Optional review comment")

	_ = voteCmd.MarkFlagRequired("facet")
	_ = voteCmd.MarkFlagRequired("as")
	_ = voteCmd.MarkFlagRequired("decision")
}

// ── ledger ───────────────────────────────────────────────────────────────────

var (
	ledgerType   string
	ledgerLimit  int
	ledgerFormat string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect an artifact's trust ledger",
}

var ledgerEventsCmd = &cobra.Command{
	Use:   "events <artifact-id>",
	Short: "List an artifact's ledger events, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		events, err := c.LedgerEvents(context.Background(), ledgerType, args[0], ledgerLimit)
		if err != nil {
			return fmt.Errorf("list ledger events: %w", err)
		}

		if ledgerFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tACTION\tHASH")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				e.CreatedAt.Format(time.RFC3339), e.Action, shortHash(e.ContentHash))
		}
		return w.Flush()
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify <artifact-id>",
	Short: "Verify an artifact's hash chain end to end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		valid, reason, err := c.VerifyLedger(context.Background(), ledgerType, args[0])
		if err != nil {
			return fmt.Errorf("verify ledger: %w", err)
		}
		if !valid {
			return fmt.Errorf("chain INVALID for %s/%s: %s", ledgerType, args[0], reason)
		}
		fmt.Printf("✓ Chain valid for %s/%s\n", ledgerType, args[0])
		return nil
	},
}

func init() {
	ledgerCmd.PersistentFlags().StringVar(&ledgerType, "type", "ROLE_AGENT", "Artifact type")
	ledgerEventsCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "Maximum events to return (0 = server default)")
	ledgerEventsCmd.Flags().StringVar(&ledgerFormat, "format", "text", "Output format: text or json")

	ledgerCmd.AddCommand(ledgerEventsCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
}

// shortHash truncates a hex digest for tabular display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}

// ── bundle ───────────────────────────────────────────────────────────────────

var bundleOrg string

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Inspect policy bundles",
}

var bundleActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the organization's active policy bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		bundles, err := c.ActiveBundles(context.Background(), bundleOrg)
		if err != nil {
			return fmt.Errorf("list active bundles: %w", err)
		}
		if len(bundles) == 0 {
			fmt.Printf("No active bundle for organization %s\n", bundleOrg)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSIZE\tHASH\tACTIVATED\tURL")
		for _, b := range bundles {
			activated := ""
			if b.Activated != nil {
				activated = b.Activated.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
				b.Version, b.Size, shortHash(b.Hash), activated, b.URL)
		}
		return w.Flush()
	},
}

func init() {
	bundleCmd.PersistentFlags().StringVar(&bundleOrg, "org", "", "Organization ID")
	_ = bundleCmd.MarkPersistentFlagRequired("org")

	bundleCmd.AddCommand(bundleActiveCmd)
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenOrg    string
	tokenType   string
	tokenLoa    int
	tokenScope  []string
	tokenFor    string
	tokenIssuer string
	tokenTTL    int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue, introspect, and revoke gateway tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <artifact-id>",
	Short: "Mint a gateway token for an approved artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		issued, err := c.IssueToken(context.Background(), client.IssueTokenInput{
			OrganizationID: tokenOrg,
			ArtifactID:     args[0],
			ArtifactType:   tokenType,
			LoaLevel:       tokenLoa,
			Scope:          tokenScope,
			IssuedFor:      tokenFor,
			IssuerID:       tokenIssuer,
			TTLSeconds:     tokenTTL,
		})
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		fmt.Printf("✓ Token issued\n\n")
		fmt.Printf("  ID:      %s\n", issued.Record.ID)
		fmt.Printf("  Bundle:  v%d\n", issued.Record.BundleVersion)
		fmt.Printf("  Expires: %s\n\n", issued.Record.ExpiresAt.Format(time.RFC3339))
		fmt.Println(issued.Token)
		return nil
	},
}

var tokenIntrospectCmd = &cobra.Command{
	Use:   "introspect <jwt>",
	Short: "Check whether a gateway token is currently valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		intro, err := c.IntrospectToken(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("introspect token: %w", err)
		}

		out, _ := json.MarshalIndent(intro, "", "  ")
		fmt.Println(string(out))
		if !intro.Valid {
			os.Exit(1)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a gateway token by its record ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		if err := c.RevokeToken(context.Background(), args[0], tokenOrg); err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("token %s not found", args[0])
			}
			return fmt.Errorf("revoke token: %w", err)
		}
		fmt.Printf("✓ Token revoked: %s\n", args[0])
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenOrg, "org", "", "Organization ID")
	_ = tokenCmd.MarkPersistentFlagRequired("org")

	tokenIssueCmd.Flags().StringVar(&tokenType, "type", "ROLE_AGENT", "Artifact type")
	tokenIssueCmd.Flags().IntVar(&tokenLoa, "loa", 0, "Level of assurance to embed (1-5)")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScope, "scope", nil, "Scope entries to embed")
	tokenIssueCmd.Flags().StringVar(&tokenFor, "for", "", "Audience the token is issued for")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "Issuer ID")
	tokenIssueCmd.Flags().IntVar(&tokenTTL, "ttl", 0, "Token TTL in seconds (0 = server default)")
	_ = tokenIssueCmd.MarkFlagRequired("loa")
	_ = tokenIssueCmd.MarkFlagRequired("issuer")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenIntrospectCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sckctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sckctl %s (Secure Knaight governance)\n", version)
	},
}
