package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nightsync/nightsync/internal/engine"
)

var (
	flagTreatmentNote string
	flagTreatmentAt   string
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <insulin|carbs|exercise|note> [value]",
		Short: "Record a treatment",
		Long: `Record a treatment locally. It uploads on the next sync pass.

Values by kind: insulin takes units, carbs takes grams, exercise takes
minutes. A note takes no value; pass the text with --note.

Examples:
  nightsync add insulin 2.5
  nightsync add carbs 45 --note "lunch"
  nightsync add exercise 30 --at 2026-08-31T14:00:00Z
  nightsync add note --note "sensor feels loose"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runAdd,
	}

	cmd.Flags().StringVar(&flagTreatmentNote, "note", "", "free-text note")
	cmd.Flags().StringVar(&flagTreatmentAt, "at", "", "event time (RFC 3339, default now)")

	return cmd
}

var kindNames = map[string]engine.TreatmentKind{
	"insulin":  engine.KindInsulin,
	"carbs":    engine.KindCarbs,
	"exercise": engine.KindExercise,
	"note":     engine.KindNote,
}

func runAdd(cmd *cobra.Command, args []string) error {
	kind, ok := kindNames[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unknown treatment kind %q (want insulin, carbs, exercise or note)", args[0])
	}

	var value float64

	if kind == engine.KindNote {
		if len(args) > 1 {
			return fmt.Errorf("a note takes no value; pass the text with --note")
		}

		if flagTreatmentNote == "" {
			return fmt.Errorf("a note needs text: use --note")
		}
	} else {
		if len(args) < 2 {
			return fmt.Errorf("%s needs a value", args[0])
		}

		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid value %q for %s", args[1], args[0])
		}

		value = v
	}

	at := time.Now()

	if flagTreatmentAt != "" {
		parsed, err := time.Parse(time.RFC3339, flagTreatmentAt)
		if err != nil {
			return fmt.Errorf("invalid --at time %q: %w", flagTreatmentAt, err)
		}

		at = parsed
	}

	logger := buildLogger()

	store, err := engine.NewStore(statePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer store.Close()

	t := engine.Treatment{
		LocalID:   uuid.NewString(),
		Kind:      kind,
		Value:     value,
		Note:      flagTreatmentNote,
		Timestamp: at.Truncate(time.Millisecond),
	}

	if err := store.SaveTreatments(cmd.Context(), []engine.Treatment{t}); err != nil {
		return fmt.Errorf("saving treatment: %w", err)
	}

	statusf("Recorded %s (%s). It uploads on the next sync.\n", args[0], t.LocalID)

	return nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <local-id>",
		Short: "Delete a local treatment",
		Long: `Delete a treatment from the local store by its local id.

A treatment the server already knows is only removed locally; the next
sync pass downloads it again unless it is also deleted on the server.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	store, err := engine.NewStore(statePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	t, err := store.GetTreatment(ctx, args[0])
	if err != nil {
		return err
	}

	if t == nil {
		return fmt.Errorf("no treatment with local id %q", args[0])
	}

	if err := store.DeleteTreatment(ctx, t.LocalID); err != nil {
		return fmt.Errorf("deleting treatment: %w", err)
	}

	if t.RemoteID != "" {
		statusf("Deleted locally. The server still has this treatment (%s); it returns on the next sync unless deleted there too.\n", t.RemoteID)
	} else {
		statusf("Deleted.\n")
	}

	return nil
}
