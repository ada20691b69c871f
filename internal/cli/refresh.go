package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/forgeline/internal/refresh"
	"github.com/forgeline/forgeline/internal/vcs"
)

// RefreshOptions holds flags for the refresh command.
type RefreshOptions struct {
	*RootOptions
	Ref    string
	OldRev string
	NewRev string
	Forced bool
	Actor  string
}

// NewRefreshCommand creates the refresh command. It is the entry point a
// post-receive hook calls after a push lands.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefreshOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refresh <project>",
		Short: "Refresh records after a push",
		Long: `Refresh all records whose source or target branch a push touched.

Invoke from a post-receive hook with the ref and the old and new revisions
the hook received. Branch creations pass the zero revision as --old,
deletions pass it as --new.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ref, "ref", "", "full ref name, e.g. refs/heads/feature")
	cmd.Flags().StringVar(&opts.OldRev, "old", vcs.ZeroRev, "revision the ref pointed at before the push")
	cmd.Flags().StringVar(&opts.NewRev, "new", vcs.ZeroRev, "revision the ref points at now")
	cmd.Flags().BoolVar(&opts.Forced, "force", false, "the push rewrote history")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "user who pushed")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runRefresh(opts *RefreshOptions, project string, cmd *cobra.Command) error {
	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := refresh.NewService(rt.Store, rt.Backend, rt.post(), refresh.Collaborators{}, rt.Logger)

	push := vcs.Push{
		Project: project,
		OldRev:  opts.OldRev,
		NewRev:  opts.NewRev,
		Ref:     opts.Ref,
		Forced:  opts.Forced,
	}

	if err := svc.Execute(cmd.Context(), push, opts.Actor); err != nil {
		return WrapExitError(ExitFailure, "refresh failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Success(fmt.Sprintf("refreshed records for %s %s", project, push.BranchName()))
}
