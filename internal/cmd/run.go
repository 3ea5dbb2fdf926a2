package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mfalcier/conclave/internal/advisor"
	"github.com/mfalcier/conclave/internal/approval"
	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/coordination"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/provider"
	"github.com/mfalcier/conclave/internal/session"
	"github.com/mfalcier/conclave/internal/stability"
	"github.com/mfalcier/conclave/internal/swarm"
	"github.com/mfalcier/conclave/internal/tool"
	"github.com/mfalcier/conclave/internal/turn"
)

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run one reasoning turn",
	Long: `Run one reasoning turn against the configured model backend. The
turn may recurse internally after tool calls; the final assistant text is
printed when the turn finalizes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTurn,
}

var (
	runObjective  string
	runWorkdir    string
	runReplay     string
	runApproveAll bool
	runDryRun     bool
)

func init() {
	runCmd.Flags().StringVarP(&runObjective, "objective", "o", "", "turn objective used by the recursion policy")
	runCmd.Flags().StringVarP(&runWorkdir, "workdir", "w", ".", "workspace root the file tools operate in")
	runCmd.Flags().StringVar(&runReplay, "replay", "", "replay a scripted transcript instead of calling the backend")
	runCmd.Flags().BoolVar(&runApproveAll, "approve-all", false, "approve write tools without asking (they are denied otherwise)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "plan isolated streams in shadow mode without running them")

	rootCmd.AddCommand(runCmd)
}

var (
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func runTurn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runReplay != "" {
		cfg.Provider.Backend = string(provider.BackendReplay)
		cfg.Provider.ReplayFile = runReplay
	}

	workdir, err := filepath.Abs(runWorkdir)
	if err != nil {
		return fmt.Errorf("resolving workdir: %w", err)
	}

	log := logging.NopLogger()
	if cfg.Logging.Enabled {
		l, err := logging.NewLogger(cfg.Session.Dir, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("opening logger: %w", err)
		}
		defer l.Close()
		log = l
	}

	client, err := provider.NewFromConfig(cfg.Provider)
	if err != nil {
		return err
	}
	completer := provider.CompleterFromClient(client)

	bus := event.NewBus()
	out := cmd.OutOrStdout()
	bus.Subscribe("tool.completed", func(e event.Event) {
		tc := e.(event.ToolCompletedEvent)
		line := fmt.Sprintf("  tool %s: ok", tc.Tool)
		if !tc.Success {
			line = fmt.Sprintf("  tool %s: failed", tc.Tool)
		}
		fmt.Fprintln(out, toolStyle.Render(line))
	})
	bus.Subscribe("council.fractured", func(e event.Event) {
		cf := e.(event.ConsensusFracturedEvent)
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("  consensus fractured (entropy %.0f)", cf.Entropy)))
	})

	// The store's vote source is bound late so the council can own it.
	var cncl *council.Council
	councilOpts := []council.Option{council.WithLogger(log)}

	var store *session.Store
	if cfg.Session.Dir != "" {
		lock, err := session.Acquire(cfg.Session.Dir, log)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()

		if cfg.Session.Persist {
			store, err = session.NewStore(cfg.Session.Dir, log, session.WithVoteSource(func() []council.Vote {
				if cncl == nil {
					return nil
				}
				return cncl.Votes()
			}))
			if err != nil {
				return err
			}
			defer store.Drain()
			councilOpts = append(councilOpts, council.WithPersister(store))
		}
	}

	cncl = council.New(cfg.Council, bus, councilOpts...)
	if store != nil {
		if state, err := store.Load(); err == nil && state != nil {
			cncl.SeedVotes(state.Votes)
		}
	}

	registry := tool.NewRegistry(tool.Builtins(workdir)...)

	gatePolicy := approval.Policy{Default: approval.ModeDeny}
	if runApproveAll {
		gatePolicy.Default = approval.ModeAllow
	}
	gate := approval.NewGate(gatePolicy)

	founder := advisor.NewFounder(cfg.Founder, completer, cncl, log)
	panel := advisor.NewPanel(cncl, log,
		advisor.NewStrategist(cncl),
		advisor.NewAuditor(completer, cncl),
		founder,
		advisor.NewQualityReviewer(completer, cncl),
		advisor.NewReadinessReviewer(completer),
	)

	evaluator := func(ctx context.Context, agent string, intent swarm.Intent, msgs []provider.Message) (string, error) {
		prompt := fmt.Sprintf("You are %s. Perform a %s over the conversation below and answer in plain text.\n\n%s",
			agent, intent, tailText(msgs, 6))
		return completer.Complete(ctx, prompt)
	}
	manager := swarm.NewManager(cfg.Scheduler, bus, evaluator, log)

	controller := stability.NewController(func() float64 {
		return float64(manager.InFlight()) / float64(cfg.Scheduler.ConcurrencyCap)
	}, bus, cfg.Stability)

	schedOpts := []swarm.SchedulerOption{swarm.WithSchedulerLogger(log)}
	if runDryRun {
		schedOpts = append(schedOpts, swarm.WithDryRun())
	}
	scheduler := swarm.NewScheduler(cfg.Scheduler, manager.InFlight, schedOpts...)
	arbiter := swarm.NewArbiter(cfg.Scheduler, bus, log)

	orch := turn.New(cfg, bus, client, registry, cncl,
		turn.WithLogger(log),
		turn.WithPanel(panel),
		turn.WithCoordinator(coordination.New(cfg.Specialization, coordination.WithLogger(log))),
		turn.WithSwarm(scheduler, manager, arbiter),
		turn.WithPressure(controller),
		turn.WithApproval(gate.Func()),
		turn.WithRepair(argRepairer(completer)),
	)
	defer orch.Dispose()

	res, err := orch.RunTurn(cmd.Context(), turn.Request{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: strings.Join(args, " ")}},
		Objective: runObjective,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, res.Text)
	fmt.Fprintln(out)
	summary := fmt.Sprintf("depth %d | tool calls %d | strategy %s", res.Depth, res.ToolCalls, res.Strategy)
	if d := founder.LastDecision(); d.Strategy != "" {
		summary += fmt.Sprintf(" | founder %s %.1f", d.Strategy, d.Confidence)
	}
	fmt.Fprintln(out, summaryStyle.Render(summary))
	return nil
}

// argRepairer asks the model for corrected arguments after a failed tool
// call. Anything other than a clean JSON object declines the repair.
func argRepairer(completer provider.Completer) turn.RepairFunc {
	return func(ctx context.Context, toolName string, args json.RawMessage, errText string) (json.RawMessage, bool) {
		prompt := fmt.Sprintf(
			"The tool %s failed.\nArguments: %s\nResult: %s\nReply with corrected JSON arguments only, or NO if the call cannot be fixed.",
			toolName, string(args), errText)
		out, err := completer.Complete(ctx, prompt)
		if err != nil {
			return nil, false
		}
		fixed := strings.TrimSpace(out)
		if !strings.HasPrefix(fixed, "{") || !json.Valid([]byte(fixed)) {
			return nil, false
		}
		return json.RawMessage(fixed), true
	}
}

// tailText renders the last n messages as plain text for stream prompts.
func tailText(msgs []provider.Message, n int) string {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
