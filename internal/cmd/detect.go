package cmd

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/event"
	"github.com/wayscout-io/wayscout/internal/memory"
	"github.com/wayscout-io/wayscout/internal/runner"
	"github.com/wayscout-io/wayscout/internal/secrets"
)

var (
	detectPreferences      string
	detectItinerary        string
	detectOutput           string
	detectJSONOutput       string
	detectUpdatedItinerary string
	detectState            string
	detectProfile          string
	detectMaxEvents        int
	detectModel            string
	detectYes              bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection and review proposed itinerary changes",
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectPreferences, "preferences", "", "path to traveller preferences (.txt or .md)")
	detectCmd.Flags().StringVar(&detectItinerary, "itinerary", "", "path to itinerary CSV")
	detectCmd.Flags().StringVar(&detectOutput, "output", "", "output path for the change report (default: <data-dir>/outputs/itinerary_changes.txt)")
	detectCmd.Flags().StringVar(&detectJSONOutput, "json-output", "", "output path for the JSON patch file")
	detectCmd.Flags().StringVar(&detectUpdatedItinerary, "updated-itinerary", "", "output path for the patched itinerary CSV")
	detectCmd.Flags().StringVar(&detectState, "state", "", "path to the memory state file")
	detectCmd.Flags().StringVar(&detectProfile, "profile", "", "path to an optional detection profile YAML")
	detectCmd.Flags().IntVar(&detectMaxEvents, "max-events", 0, "maximum number of events to return")
	detectCmd.Flags().StringVar(&detectModel, "model", "", "Groq model name")
	detectCmd.Flags().BoolVarP(&detectYes, "yes", "y", false, "approve every proposed change without prompting")
	_ = detectCmd.MarkFlagRequired("preferences")
	_ = detectCmd.MarkFlagRequired("itinerary")
	_ = viper.BindPFlag(config.KeyMaxEvents, detectCmd.Flags().Lookup("max-events"))
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "detect")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if detectModel != "" {
		cfg.Model = detectModel
	}
	if detectState != "" {
		cfg.StatePath = detectState
	}
	profile, err := config.LoadProfile(detectProfile)
	if err != nil {
		return err
	}
	cfg.ApplyProfile(profile)
	resolveGroqKeyFromKeyring(ctx, cfg)
	if err := cfg.RequireGroqKey(); err != nil {
		return fmt.Errorf("GROQ API key is not set (set GROQ_API_KEY, WAYSCOUT_GROQ_API_KEY, or `wayscout secrets set %s ...`): %w", secrets.GroqKeyName, err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	store, err := memory.NewStore(cfg.MemoryStatePath())
	if err != nil {
		return err
	}

	res, err := r.Detect(ctx, store, detectPreferences, detectItinerary, detectMaxEvents)
	if err != nil {
		return err
	}

	approved := reviewEvents(cmd.OutOrStdout(), cmd.InOrStdin(), store, res.Batch)

	store.AddHistory(fmt.Sprintf("Run completed with %d events, %d approved.",
		len(res.Batch.Events), approved))
	if err := store.Save(); err != nil {
		return err
	}

	outputPath := detectOutput
	if outputPath == "" {
		outputPath = filepath.Join(cfg.OutputsDir(), runner.ChangesTextFile)
	}
	jsonPath := detectJSONOutput
	if jsonPath == "" {
		jsonPath = filepath.Join(cfg.OutputsDir(), runner.ChangesJSONFile)
	}
	updatedPath := detectUpdatedItinerary
	if updatedPath == "" {
		updatedPath = filepath.Join(cfg.OutputsDir(), runner.UpdatedItineraryFile)
	}

	if err := r.WriteOutputs(store, outputPath, jsonPath); err != nil {
		return err
	}
	if err := r.ApplyApproved(store, res.Rows, updatedPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nSaved changes to %s\n", outputPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved JSON patch to %s\n", jsonPath)
	if approved > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved updated itinerary to %s\n", updatedPath)
	}
	return nil
}

// reviewEvents walks the batch, prints each proposal, and records the
// decision. Returns the number of approvals.
func reviewEvents(out io.Writer, in io.Reader, store *memory.Store, batch *event.Batch) int {
	reader := bufio.NewReader(in)
	approved := 0
	for _, e := range batch.Events {
		fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
		fmt.Fprintf(out, "%s: %s\n", strings.ToUpper(e.Category), e.Title)
		fmt.Fprintf(out, "Where/When: %s | %s | %s\n", e.Location, e.Date, e.TimeWindow)
		fmt.Fprintf(out, "Details: %s\n", e.Description)
		fmt.Fprintf(out, "Why it matters: %s\n", e.Rationale)
		fmt.Fprintf(out, "Recommendation: %s\n", e.Recommendation)
		fmt.Fprintf(out, "Proposed change: %s\n", e.ProposedChange)
		fmt.Fprintf(out, "Patch: day=%s row=%s type=%s new_time=%s new_location=%s\n",
			e.ItineraryDay, e.ItineraryRowID, e.ChangeType, e.NewTime, e.NewLocation)
		if len(e.Sources) > 0 {
			fmt.Fprintln(out, "Sources:")
			for _, s := range e.Sources {
				fmt.Fprintf(out, " - %s: %s\n", s.Title, s.URL)
			}
		}

		decision := detectYes
		if !detectYes {
			fmt.Fprint(out, "Approve this change? (y/n): ")
			answer, err := reader.ReadString('\n')
			if err != nil && answer == "" {
				decision = false
			} else {
				answer = strings.ToLower(strings.TrimSpace(answer))
				decision = answer == "y" || answer == "yes"
			}
		}
		store.SetApproval(e.ID, decision)
		store.ResolvePending(e.ID)
		if decision {
			approved++
		}
	}
	return approved
}
