package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/forgeline/internal/merge"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Actor   string
	Message string
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <record-id>",
		Short: "Merge an open record into its target branch",
		Long: `Merge an open record into its target branch.

The attempt runs under the record's merge lock: a concurrent attempt on
the same record fails fast instead of queueing. On failure the rejection
reason is persisted on the record and printed here.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "user performing the merge")
	cmd.Flags().StringVar(&opts.Message, "message", "", "merge commit message (defaults to a generated one)")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runMerge(opts *MergeOptions, arg string, cmd *cobra.Command) error {
	id, err := parseRecordID(arg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := merge.NewService(rt.Store, rt.Backend, rt.Policy, rt.post(), rt.Logger)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	commitID, err := svc.Execute(cmd.Context(), id, opts.Actor, opts.Message)
	if err != nil {
		var me *merge.MergeError
		if errors.As(err, &me) {
			_ = out.Error(string(me.Code), me.Message)
			return WrapExitError(ExitFailure, "merge rejected", err)
		}
		return WrapExitError(ExitCommandError, "merge failed", err)
	}

	return out.Success(fmt.Sprintf("record %d merged as %s", id, commitID))
}

// DryRunOptions holds flags for the dry-run command.
type DryRunOptions struct {
	*RootOptions
	Actor string
	Ref   string
}

// NewDryRunCommand creates the dry-run command.
func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DryRunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dry-run <record-id>",
		Short: "Compute a merge result without touching the target branch",
		Long: `Compute what merging a record would produce, writing the result to a
disposable ref scoped to the record. The target branch and the record's
state are never modified.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "user requesting the dry run")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "destination ref (defaults to the record's train ref)")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runDryRun(opts *DryRunOptions, arg string, cmd *cobra.Command) error {
	id, err := parseRecordID(arg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := merge.NewMergeToRefService(rt.Store, rt.Backend, rt.Policy, rt.Logger)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	result, err := svc.Execute(cmd.Context(), id, opts.Actor, opts.Ref)
	if err != nil {
		var me *merge.MergeError
		if errors.As(err, &me) {
			_ = out.Error(string(me.Code), me.Message)
			return WrapExitError(ExitFailure, "dry-run rejected", err)
		}
		return WrapExitError(ExitCommandError, "dry-run failed", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]string{
			"commit_id":        result.CommitID,
			"first_parent_id":  result.FirstParentID,
			"second_parent_id": result.SecondParentID,
			"ref_name":         result.RefName,
		})
	}
	return out.Success(fmt.Sprintf("merge of record %d computed as %s at %s",
		id, result.CommitID, result.RefName))
}
