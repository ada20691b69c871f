package cli

import (
	"github.com/spf13/cobra"

	"github.com/forgeline/forgeline/internal/mirror"
)

// MirrorOptions holds flags for the mirror command.
type MirrorOptions struct {
	*RootOptions
	Watch bool
}

// NewMirrorCommand creates the mirror command.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MirrorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Reconcile mirrored records against their upstream proposals",
		Long: `Reconcile every opened mirrored record against its upstream proposal.

Requires mirror configuration (base URL and token). With --watch the
reconciler keeps polling at the configured interval until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep polling instead of a single sweep")

	return cmd
}

func runMirror(opts *MirrorOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	mcfg := rt.Config.Mirror
	if !mcfg.Enabled {
		return WrapExitError(ExitCommandError, "mirroring is not enabled in the config", nil)
	}

	client, err := mirror.NewClient(mcfg.BaseURL, mcfg.Token, rt.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build mirror client", err)
	}

	rec := mirror.NewReconciler(client, rt.Store, rt.post(), mcfg.Interval)
	if opts.Watch {
		rec.Run(cmd.Context())
		return nil
	}
	rec.ReconcileOnce(cmd.Context())

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Success("mirror reconciliation complete")
}
