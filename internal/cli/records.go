package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgeline/forgeline/internal/record"
)

// recordView is the JSON/text projection of a record.
type recordView struct {
	ID            int64  `json:"id"`
	State         string `json:"state"`
	SourceProject string `json:"source_project"`
	SourceBranch  string `json:"source_branch"`
	TargetProject string `json:"target_project"`
	TargetBranch  string `json:"target_branch"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	MergeCommitID string `json:"merge_commit_id,omitempty"`
	MergeError    string `json:"merge_error,omitempty"`
	DiffHead      string `json:"diff_head_commit_id,omitempty"`
	DiffFreshness string `json:"diff_freshness"`
}

func viewOf(r *record.Record) recordView {
	return recordView{
		ID:            r.ID,
		State:         string(r.State),
		SourceProject: r.SourceProject,
		SourceBranch:  r.SourceBranch,
		TargetProject: r.TargetProject,
		TargetBranch:  r.TargetBranch,
		Title:         r.Title,
		Author:        r.Author,
		MergeCommitID: r.MergeCommitID,
		MergeError:    r.MergeError,
		DiffHead:      r.DiffHeadCommitID,
		DiffFreshness: string(r.DiffFreshness),
	}
}

func (v recordView) String() string {
	s := fmt.Sprintf("#%d [%s] %s/%s -> %s/%s: %s",
		v.ID, v.State, v.SourceProject, v.SourceBranch, v.TargetProject, v.TargetBranch, v.Title)
	if v.MergeCommitID != "" {
		s += " (merged as " + v.MergeCommitID + ")"
	}
	if v.MergeError != "" {
		s += " (last error: " + v.MergeError + ")"
	}
	return s
}

// NewRecordsCommand creates the records command group.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage integration records",
	}
	cmd.AddCommand(newRecordsListCommand(rootOpts))
	cmd.AddCommand(newRecordsCreateCommand(rootOpts))
	cmd.AddCommand(newRecordsShowCommand(rootOpts))
	cmd.AddCommand(newRecordsCloseCommand(rootOpts))
	return cmd
}

func newRecordsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List all records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.Store.ListRecords(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list records", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				views := make([]recordView, 0, len(recs))
				for _, r := range recs {
					views = append(views, viewOf(r))
				}
				return out.Success(views)
			}
			for _, r := range recs {
				fmt.Fprintln(cmd.OutOrStdout(), viewOf(r))
			}
			return nil
		},
	}
}

func newRecordsCreateCommand(rootOpts *RootOptions) *cobra.Command {
	rec := &record.Record{}
	var upstreamProject int64
	var upstreamIID int

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a new integration record",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rec.SourceBranch == "" || rec.TargetBranch == "" || rec.SourceProject == "" {
				return WrapExitError(ExitCommandError, "source project, source branch, and target branch are required", nil)
			}
			if rec.TargetProject == "" {
				rec.TargetProject = rec.SourceProject
			}
			rec.UpstreamProjectID = upstreamProject
			rec.UpstreamIID = upstreamIID

			rt, err := openRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if tip, err := rt.Backend.BranchTip(cmd.Context(), rec.SourceProject, rec.SourceBranch); err == nil {
				rec.DiffHeadCommitID = tip
			}

			if err := rt.Store.CreateRecord(cmd.Context(), rec); err != nil {
				return WrapExitError(ExitCommandError, "failed to create record", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return out.Success(viewOf(rec))
		},
	}

	cmd.Flags().StringVar(&rec.SourceProject, "source-project", "", "project the source branch lives in")
	cmd.Flags().StringVar(&rec.SourceBranch, "source-branch", "", "branch to integrate")
	cmd.Flags().StringVar(&rec.TargetProject, "target-project", "", "project to integrate into (defaults to source project)")
	cmd.Flags().StringVar(&rec.TargetBranch, "target-branch", "", "branch to integrate into")
	cmd.Flags().StringVar(&rec.Title, "title", "", "proposal title")
	cmd.Flags().StringVar(&rec.Author, "author", "", "proposal author")
	cmd.Flags().BoolVar(&rec.Squash, "squash", false, "squash commits before merging")
	cmd.Flags().BoolVar(&rec.FastForwardOnly, "fast-forward", false, "reject merge commits for this record")
	cmd.Flags().BoolVar(&rec.ForceRemoveSourceBranch, "remove-source-branch", false, "delete the source branch after merge")
	cmd.Flags().Int64Var(&upstreamProject, "upstream-project", 0, "upstream project id for mirroring")
	cmd.Flags().IntVar(&upstreamIID, "upstream-iid", 0, "upstream proposal iid for mirroring")

	return cmd
}

func newRecordsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <record-id>",
		Short:         "Show one record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.Store.GetRecord(cmd.Context(), id)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load record", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return out.Success(viewOf(rec))
		},
	}
}

func newRecordsCloseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "close <record-id>",
		Short:         "Close an open record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Store.CloseRecord(cmd.Context(), id); err != nil {
				return WrapExitError(ExitFailure, "failed to close record", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return out.Success(fmt.Sprintf("record %d closed", id))
		},
	}
}

func parseRecordID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", arg), err)
	}
	return id, nil
}
