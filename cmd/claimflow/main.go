// Package main provides the CLI entry point for claimflow.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/claimflow/claimflow/cmd/claimflow/commands"
	claimflow "github.com/claimflow/claimflow/pkg/claimflow"
)

var (
	version = "1.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		output, _ := json.MarshalIndent(claimflow.ResultOf(err), "", "  ")
		fmt.Fprintln(os.Stderr, string(output))
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "claimflow",
	Short: "Claimflow - Claims and work distribution for agent swarms",
	Long: `Claimflow coordinates exclusive work ownership across a swarm of agents.

It provides:
  - Exclusive issue claims with TTL expiry
  - Cooperative handoffs between agents
  - Work stealing with contest resolution
  - Load detection and rebalancing
  - An event-sourced audit log of every ownership change`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newEngine() (*claimflow.Engine, error) {
	cfg, err := claimflow.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return claimflow.New(claimflow.Options{Config: &cfg})
}

func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}

// ============================================================================
// Claim Commands
// ============================================================================

var (
	claimantID   string
	claimantType string
	claimantName string
	asHuman      bool
)

func claimant() claimflow.Claimant {
	if asHuman {
		return claimflow.NewHuman(claimantID, claimantName)
	}
	return claimflow.NewAgent(claimantID, claimantType)
}

func addClaimantFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&claimantID, "id", "i", "", "Claimant ID (required)")
	cmd.Flags().StringVarP(&claimantType, "type", "t", "coder", "Agent type")
	cmd.Flags().StringVar(&claimantName, "name", "", "Display name (human claimants)")
	cmd.Flags().BoolVar(&asHuman, "human", false, "Act as a human claimant")
	cmd.MarkFlagRequired("id")
}

var claimTTL time.Duration

var claimCmd = &cobra.Command{
	Use:   "claim <issue-id>",
	Short: "Claim exclusive ownership of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		ttl := claimTTL
		if !cmd.Flags().Changed("ttl") {
			ttl = engine.Config().ClaimTTL
		}
		claim, err := engine.Claims.Claim(cmd.Context(), args[0], claimant(),
			claimflow.ClaimOptions{TTL: ttl})
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

var releaseReason string

var releaseCmd = &cobra.Command{
	Use:   "release <issue-id>",
	Short: "Release a claim you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		if err := engine.Claims.Release(cmd.Context(), args[0], claimant(), releaseReason); err != nil {
			return err
		}

		fmt.Printf("Released %s\n", args[0])
		return nil
	},
}

var (
	statusSet      string
	statusNote     string
	statusProgress float64
)

var statusCmd = &cobra.Command{
	Use:   "status <issue-id>",
	Short: "Show or update a claim's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		if statusSet == "" {
			claim, ok := engine.Claims.Get(args[0])
			if !ok {
				return fmt.Errorf("issue %s is not claimed", args[0])
			}
			printJSON(claim)
			return nil
		}

		claim, err := engine.Claims.UpdateStatus(cmd.Context(), args[0], claimant(),
			claimflow.ClaimStatus(statusSet), statusNote, statusProgress)
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List current claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		var claims []*claimflow.IssueClaim
		if listStatus != "" {
			claims = engine.Claims.ListByStatus(claimflow.ClaimStatus(listStatus))
		} else {
			claims = engine.Claims.List()
		}

		if len(claims) == 0 {
			fmt.Println("No claims")
			return nil
		}

		printJSON(claims)
		return nil
	},
}

// ============================================================================
// Handoff Commands
// ============================================================================

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Hand work off to another claimant",
}

var (
	handoffToID   string
	handoffToType string
	handoffReason string
)

var handoffRequestCmd = &cobra.Command{
	Use:   "request <issue-id>",
	Short: "Request a handoff to another claimant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		claim, err := engine.Claims.RequestHandoff(cmd.Context(), args[0], claimant(),
			claimflow.NewAgent(handoffToID, handoffToType), handoffReason)
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

var handoffAcceptCmd = &cobra.Command{
	Use:   "accept <issue-id>",
	Short: "Accept a pending handoff addressed to you",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		claim, err := engine.Claims.AcceptHandoff(cmd.Context(), args[0], claimant())
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

var handoffRejectReason string

var handoffRejectCmd = &cobra.Command{
	Use:   "reject <issue-id>",
	Short: "Reject a pending handoff addressed to you",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		claim, err := engine.Claims.RejectHandoff(cmd.Context(), args[0], claimant(), handoffRejectReason)
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

// ============================================================================
// Steal Commands
// ============================================================================

var stealCmd = &cobra.Command{
	Use:   "steal",
	Short: "Work stealing commands",
}

var (
	stealReason    string
	stealPreferred []string
)

var stealMarkCmd = &cobra.Command{
	Use:   "mark <issue-id>",
	Short: "Mark your claim as stealable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		entry, err := engine.Stealing.MarkStealable(cmd.Context(), args[0], claimant(),
			claimflow.StealReason(stealReason), stealPreferred)
		if err != nil {
			return err
		}

		printJSON(entry)
		return nil
	},
}

var stealTakeCmd = &cobra.Command{
	Use:   "take <issue-id>",
	Short: "Take over a stealable claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		claim, err := engine.Stealing.Steal(cmd.Context(), args[0], claimant())
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

var stealBoardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the stealable board",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		entries := engine.Stealing.Board()
		if len(entries) == 0 {
			fmt.Println("Nothing stealable")
			return nil
		}

		printJSON(entries)
		return nil
	},
}

var stealReclaimCmd = &cobra.Command{
	Use:   "reclaim <issue-id>",
	Short: "Withdraw your claim from the stealable board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		claim, err := engine.Stealing.Reclaim(cmd.Context(), args[0], claimant())
		if err != nil {
			return err
		}

		printJSON(claim)
		return nil
	},
}

// ============================================================================
// Balance Commands
// ============================================================================

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Show agent loads and imbalance",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		report, err := engine.Balancer.DetectImbalance(cmd.Context())
		if err != nil {
			return err
		}

		printJSON(map[string]any{
			"loads":     engine.Balancer.GetAllLoads(),
			"imbalance": report,
			"gini":      engine.Balancer.GiniCoefficient(),
		})
		return nil
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Rebalance work across agents",
}

var rebalanceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a rebalance cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		result, err := engine.Balancer.Rebalance(cmd.Context())
		if err != nil {
			return err
		}

		printJSON(result)
		return nil
	},
}

var rebalancePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview a rebalance without moving work",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		printJSON(engine.Balancer.PreviewRebalance())
		return nil
	},
}

var rebalanceResetCmd = &cobra.Command{
	Use:   "reset-cooldown",
	Short: "Clear the rebalance cooldown",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		engine.Balancer.ResetCooldown()
		fmt.Println("Cooldown cleared")
		return nil
	},
}

// ============================================================================
// Events Command
// ============================================================================

var eventsBalancer bool

var eventsCmd = &cobra.Command{
	Use:   "events [issue-id]",
	Short: "Show the audit log for an issue or the balancer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		var events []*claimflow.ClaimEvent
		switch {
		case eventsBalancer:
			events, err = engine.BalancerEvents(cmd.Context())
		case len(args) == 1:
			events, err = engine.Events(cmd.Context(), args[0])
		default:
			return fmt.Errorf("provide an issue ID or --balancer")
		}
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No events")
			return nil
		}

		printJSON(events)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	// Claim commands
	addClaimantFlags(claimCmd)
	claimCmd.Flags().DurationVar(&claimTTL, "ttl", 0, "Claim TTL (0 means no expiry; defaults to the configured claimTtl)")
	rootCmd.AddCommand(claimCmd)

	addClaimantFlags(releaseCmd)
	releaseCmd.Flags().StringVarP(&releaseReason, "reason", "r", "", "Release reason")
	rootCmd.AddCommand(releaseCmd)

	addClaimantFlags(statusCmd)
	statusCmd.Flags().StringVarP(&statusSet, "set", "s", "", "New status (active, paused, blocked, review-requested, completed)")
	statusCmd.Flags().StringVarP(&statusNote, "note", "n", "", "Status note (required for blocked)")
	statusCmd.Flags().Float64VarP(&statusProgress, "progress", "p", 0, "Progress percentage")
	rootCmd.AddCommand(statusCmd)

	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status")
	rootCmd.AddCommand(listCmd)

	// Handoff commands
	addClaimantFlags(handoffRequestCmd)
	handoffRequestCmd.Flags().StringVar(&handoffToID, "to", "", "Target claimant ID (required)")
	handoffRequestCmd.Flags().StringVar(&handoffToType, "to-type", "coder", "Target agent type")
	handoffRequestCmd.Flags().StringVarP(&handoffReason, "reason", "r", "", "Handoff reason")
	handoffRequestCmd.MarkFlagRequired("to")
	addClaimantFlags(handoffAcceptCmd)
	addClaimantFlags(handoffRejectCmd)
	handoffRejectCmd.Flags().StringVarP(&handoffRejectReason, "reason", "r", "", "Rejection reason")
	handoffCmd.AddCommand(handoffRequestCmd)
	handoffCmd.AddCommand(handoffAcceptCmd)
	handoffCmd.AddCommand(handoffRejectCmd)
	rootCmd.AddCommand(handoffCmd)

	// Steal commands
	addClaimantFlags(stealMarkCmd)
	stealMarkCmd.Flags().StringVarP(&stealReason, "reason", "r", "voluntary", "Steal reason (overloaded, stale, blocked-timeout, voluntary)")
	stealMarkCmd.Flags().StringSliceVar(&stealPreferred, "prefer", nil, "Preferred claimant types")
	addClaimantFlags(stealTakeCmd)
	addClaimantFlags(stealReclaimCmd)
	stealCmd.AddCommand(stealMarkCmd)
	stealCmd.AddCommand(stealTakeCmd)
	stealCmd.AddCommand(stealBoardCmd)
	stealCmd.AddCommand(stealReclaimCmd)
	rootCmd.AddCommand(stealCmd)

	// Balance commands
	rootCmd.AddCommand(loadCmd)
	rebalanceCmd.AddCommand(rebalanceRunCmd)
	rebalanceCmd.AddCommand(rebalancePreviewCmd)
	rebalanceCmd.AddCommand(rebalanceResetCmd)
	rootCmd.AddCommand(rebalanceCmd)

	// Events command
	eventsCmd.Flags().BoolVar(&eventsBalancer, "balancer", false, "Show the balancer stream instead of an issue stream")
	rootCmd.AddCommand(eventsCmd)

	// Serve command (from commands package)
	rootCmd.AddCommand(commands.ServeCmd)
}
