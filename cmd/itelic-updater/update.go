package main

import (
	"context"
	"fmt"
	"os"

	"github.com/itelic/itelic-updater/internal/httpclient"
	"github.com/itelic/itelic-updater/internal/updater"
	"github.com/itelic/itelic-updater/internal/updates"
	"github.com/spf13/cobra"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the store for a newer version",
		Long: `Check the store for a newer version of the product.

A successful check is reused until cache_ttl expires. Use --force to ask
the store again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			fmt.Printf("Current version: %s\n", a.cfg.Version)
			fmt.Println("Checking for updates...")

			t := a.check(ctx, force)
			printUpdate(t, a.poller.Slug())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Ignore the cached result")

	return cmd
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	var (
		downloadDir string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for an update and optionally download its package",
		Long: `Check for a new version of the product and print the upgrade notice.

Use --download to fetch the package archive into a directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext()
			defer cancel()

			t := a.check(ctx, force)
			d, ok := t.Update(a.poller.Slug())
			if !ok {
				fmt.Println("You are running the latest version.")
				return nil
			}

			printUpdate(t, a.poller.Slug())
			if downloadDir == "" {
				fmt.Println("Run 'itelic-updater update --download <dir>' to fetch the package.")
				return nil
			}

			return runDownload(a, d, downloadDir)
		},
	}

	cmd.Flags().StringVar(&downloadDir, "download", "", "Download the package into this directory")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the cached result")

	return cmd
}

func runDownload(a *app, d updates.Descriptor, dir string) error {
	client, err := httpclient.New(httpclient.Options{
		Timeout:     updater.DownloadTimeout,
		ProxyConfig: &a.cfg.Proxy,
	})
	if err != nil {
		return fmt.Errorf("create download client: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), updater.DownloadTimeout)
	defer cancel()

	fmt.Printf("Downloading %s...\n", updater.PackageFileName(d))

	u := updater.New(client, a.logger)
	result, err := u.Download(ctx, d, dir, func(downloaded, total int64) {
		if total > 0 {
			pct := float64(downloaded) / float64(total) * 100
			fmt.Printf("\rDownloading: %.1f%% (%d / %d bytes)", pct, downloaded, total)
		}
	})
	if err != nil {
		return fmt.Errorf("download update: %w", err)
	}

	fmt.Printf("\n\nSaved %s (%d bytes)\n", result.Path, result.Size)
	fmt.Printf("SHA-256: %s\n", result.SHA256)
	return nil
}

// printUpdate describes the update recorded in t for slug.
func printUpdate(t *updates.Transient, slug string) {
	d, ok := t.Update(slug)
	if !ok {
		fmt.Println("No update available.")
		return
	}

	fmt.Println(updates.AppendUpgradeNotice(fmt.Sprintf("Version %s is available.", d.NewVersion), d))
	fmt.Printf("Changelog: %s\n", d.URL)
}
