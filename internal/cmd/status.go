package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted session state",
	Long:  `Display the persisted council state of the configured session directory.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle()
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.Session.Dir == "" {
		fmt.Fprintln(out, "No session directory configured (session.dir)")
		return nil
	}

	fmt.Fprintln(out, headerStyle.Render("Session "+cfg.Session.Dir))
	if session.Held(cfg.Session.Dir) {
		fmt.Fprintln(out, busyStyle.Render("An engine instance currently holds this session"))
	}

	store, err := session.NewStore(cfg.Session.Dir, logging.NopLogger())
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("reading session state: %w", err)
	}
	if state == nil {
		fmt.Fprintln(out, "No persisted state yet")
		return nil
	}

	row := func(label, value string) {
		fmt.Fprintln(out, labelStyle.Render(label)+valueStyle.Render(value))
	}

	snap := state.Snapshot
	row("Saved", state.SavedAt.Format("2006-01-02 15:04:05"))
	row("Strategy", string(snap.Strategy))
	row("Mood", string(snap.Mood))
	row("Flow state", fmt.Sprintf("%.0f", snap.FlowState))
	row("Entropy", fmt.Sprintf("%.0f", snap.Entropy))
	row("Votes", fmt.Sprintf("%d", snap.VoteCount))
	if snap.OverrideActive {
		row("Override", "founder conviction active")
	}
	if len(snap.Hotspots) > 0 {
		fmt.Fprintln(out, labelStyle.Render("Hotspots"))
		for file, count := range snap.Hotspots {
			fmt.Fprintf(out, "    %s (%d failures)\n", file, count)
		}
	}
	return nil
}
