package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"farmjobs/internal/jobs"

	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <TYPE> [payload-json]",
	Short: "Enqueue a job, e.g. enqueue DELETE_PLOT '{\"plotId\":\"...\"}'",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runEnqueue,
}

var (
	enqueueKey      string
	enqueueAutoKey  bool
	enqueueMaxRetry int
	enqueueAdminID  string
)

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueKey, "idempotency-key", "", "fold duplicates with the same key into one job")
	f.BoolVar(&enqueueAutoKey, "dedupe", false, "derive the idempotency key from type and payload")
	f.IntVar(&enqueueMaxRetry, "max-retry", 0, "override the retry budget")
	f.StringVar(&enqueueAdminID, "admin", "", "record the admin that triggered the job")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	typ := jobs.Type(strings.ToUpper(args[0]))
	raw := "{}"
	if len(args) == 2 {
		raw = args[1]
	}
	p, err := jobs.DecodePayload(typ, []byte(raw))
	if err != nil {
		return err
	}

	in := jobs.EnqueueInput{Payload: p, MaxRetry: enqueueMaxRetry}
	switch {
	case enqueueKey != "":
		in.IdempotencyKey = &enqueueKey
	case enqueueAutoKey:
		k, err := jobs.IdempotencyKeyFor(p)
		if err != nil {
			return err
		}
		in.IdempotencyKey = &k
	}
	if enqueueAdminID != "" {
		in.TriggeredByAdminID = &enqueueAdminID
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	j, err := a.repo.Enqueue(cmd.Context(), in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(j); err != nil {
		return fmt.Errorf("print job: %w", err)
	}
	return nil
}
