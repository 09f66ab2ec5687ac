package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"labcore/internal/core"
	"labcore/internal/observability"
	"labcore/pkg/domain"
)

func newRegisterCmd(flags *globalFlags) *cobra.Command {
	var (
		batchFile  string
		maxElapsed time.Duration
	)
	cmd := &cobra.Command{
		Use:   "register --batch FILE",
		Short: "Validate and commit a YAML batch atomically",
		Long: `register reads a batch document and commits it in one atomic operation.
A batch without registration_id gets a fresh one; commit conflicts are
retried with exponential backoff under the same id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readBatchFile(batchFile)
			if err != nil {
				return err
			}
			if in.RegistrationID == "" {
				in.RegistrationID = domain.NewRegistrationID()
			}
			details := domain.NewAtomicEntityOperationDetails(in)
			return withRuntime(cmd.Context(), flags, func(rt *core.Runtime) error {
				b := backoff.NewExponentialBackOff()
				b.MaxElapsedTime = maxElapsed
				res, err := registerWithRetry(cmd.Context(), rt.PerformAtomicOperations, details, b, rt.Logger)
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), details.RegistrationID(), res)
			})
		},
	}
	cmd.Flags().StringVar(&batchFile, "batch", "", "batch YAML file")
	cmd.Flags().DurationVar(&maxElapsed, "max-elapsed", 30*time.Second, "give up retrying commit conflicts after this long")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func readBatchFile(path string) (domain.OperationDetailsInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.OperationDetailsInput{}, fmt.Errorf("open batch: %w", err)
	}
	defer func() { _ = f.Close() }()
	var in domain.OperationDetailsInput
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.OperationDetailsInput{}, fmt.Errorf("batch %s is empty", path)
		}
		return domain.OperationDetailsInput{}, fmt.Errorf("decode batch: %w", err)
	}
	return in, nil
}

type performFunc func(context.Context, domain.AtomicEntityOperationDetails) (domain.AtomicEntityOperationResult, error)

// registerWithRetry resubmits details while the commit conflicts. Any other
// error stops the retry loop immediately.
func registerWithRetry(ctx context.Context, perform performFunc, details domain.AtomicEntityOperationDetails, b backoff.BackOff, logger observability.Logger) (domain.AtomicEntityOperationResult, error) {
	logger = observability.OrNoop(logger)
	var res domain.AtomicEntityOperationResult
	op := func() error {
		var err error
		res, err = perform(ctx, details)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("commit conflict, retrying", "registration_id", details.RegistrationID(), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return domain.AtomicEntityOperationResult{}, err
	}
	return res, nil
}

type registerOutput struct {
	RegistrationID domain.RegistrationID              `json:"registration_id"`
	Result         domain.AtomicEntityOperationResult `json:"result"`
	Total          int64                              `json:"total"`
}

func writeResult(w io.Writer, id domain.RegistrationID, res domain.AtomicEntityOperationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(registerOutput{RegistrationID: id, Result: res, Total: res.Total()})
}
