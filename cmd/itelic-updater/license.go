package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/itelic/itelic-updater/internal/license"
	"github.com/itelic/itelic-updater/internal/updates"
	"github.com/spf13/cobra"
)

func newActivateCmd(flags *globalFlags) *cobra.Command {
	var preRelease bool

	cmd := &cobra.Command{
		Use:   "activate <key>",
		Short: "Activate a license key on this installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			track := license.TrackStable
			if preRelease {
				track = license.TrackPreRelease
			}

			ctx, cancel := commandContext()
			defer cancel()

			id, err := a.manager.Activate(ctx, args[0], track)
			if err != nil {
				return storeFailure(cmd, "activate license key", "activate license", err)
			}

			fmt.Printf("License key activated (activation %d, %s track).\n", id, track)
			return nil
		},
	}

	cmd.Flags().BoolVar(&preRelease, "pre-release", false, "Receive pre-release versions")

	return cmd
}

func newDeactivateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate the license key on this installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			err = a.manager.Deactivate(ctx)
			if errors.Is(err, license.ErrNoActivation) {
				fmt.Fprintln(cmd.OutOrStdout(), "No license key is activated; nothing to deactivate.")
				return nil
			}
			if err != nil {
				return storeFailure(cmd, "deactivate the license key", "deactivate license", err)
			}

			fmt.Println("License key deactivated.")
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show license status and the last update check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			status, err := a.manager.Status(ctx)
			if err != nil {
				return fmt.Errorf("read license status: %w", err)
			}

			fmt.Printf("Store:         %s\n", status.StoreURL)
			fmt.Printf("Product:       %d (version %s)\n", status.ProductID, status.Version)
			fmt.Printf("Location:      %s\n", status.Location)
			if status.LicenseKey == "" {
				fmt.Println("License key:   not set")
			} else {
				fmt.Printf("License key:   %s\n", status.LicenseKey)
			}
			fmt.Printf("Activated:     %v\n", status.Activated)
			if status.Activated {
				fmt.Printf("Activation ID: %d\n", status.ActivationID)
			}
			fmt.Printf("Track:         %s\n", status.Track)

			t, err := updates.LoadTransient(ctx, a.store)
			if err != nil {
				return fmt.Errorf("read last update check: %w", err)
			}
			fmt.Println()
			if t == nil {
				fmt.Println("Last check:    never")
				return nil
			}
			fmt.Printf("Last check:    %s\n", t.LastChecked.Format("2006-01-02 15:04:05 MST"))
			printUpdate(t, a.poller.Slug())

			return nil
		},
	}
}

func newInfoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the store's record of the license key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			info, err := a.manager.Info(ctx)
			if err != nil {
				return storeFailure(cmd, "retrieve license info", "license info", err)
			}
			return printJSON(info)
		},
	}
}

func newProductCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "product [activation-id]",
		Short: "Show the store's record of the licensed product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			var info map[string]any
			if len(args) == 1 {
				id, perr := strconv.ParseInt(args[0], 10, 64)
				if perr != nil || id < 0 {
					return fmt.Errorf("invalid activation id %q", args[0])
				}
				client, cerr := a.manager.Client(ctx)
				if cerr != nil {
					return cerr
				}
				key := client.Identity().Key
				if key == "" {
					return &license.PreconditionError{Op: "product info", Err: license.ErrEmptyKey}
				}
				info, err = client.ProductInfo(ctx, key, id)
			} else {
				info, err = a.manager.ProductInfo(ctx)
			}
			if err != nil {
				return storeFailure(cmd, "retrieve product info", "product info", err)
			}
			return printJSON(info)
		},
	}
}

// storeFailure prints the user-facing sentence for a failed store call to
// stderr and returns err wrapped with op for the exit status.
func storeFailure(cmd *cobra.Command, action, op string, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Could not %s because %s\n", action, license.UserMessage(err))
	return fmt.Errorf("%s: %w", op, err)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
