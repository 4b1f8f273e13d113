package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/itelic/itelic-updater/internal/config"
	"github.com/itelic/itelic-updater/internal/httpclient"
	"github.com/spf13/cobra"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage updater configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(flags),
		newConfigInitCmd(flags),
	)

	return cmd
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			path, _ := flags.resolveConfigPath()
			fmt.Printf("Config file: %s\n", path)
			fmt.Println()

			if err := cfg.Validate(); err != nil {
				fmt.Printf("Updater is not configured: %v\n", err)
				fmt.Println("Run 'itelic-updater config init' to set up.")
				return nil
			}

			settingsPath, _ := cfg.ResolveSettingsPath()
			fmt.Printf("Store URL:      %s\n", cfg.StoreURL)
			fmt.Printf("Product ID:     %d\n", cfg.ProductID)
			fmt.Printf("Version:        %s\n", cfg.Version)
			fmt.Printf("Slug:           %s\n", cfg.Slug)
			if cfg.SiteURL != "" {
				fmt.Printf("Site URL:       %s\n", cfg.SiteURL)
			}
			fmt.Printf("Settings:       %s\n", settingsPath)
			fmt.Printf("Cache TTL:      %s\n", cfg.CacheTTL)
			fmt.Printf("Auto-check:     %v\n", cfg.AutoCheckUpdate)
			fmt.Printf("Poll schedule:  %s\n", cfg.PollSchedule)
			fmt.Printf("Status address: %s\n", cfg.StatusAddr)
			if cfg.RedisAddr != "" {
				fmt.Printf("Redis:          %s\n", cfg.RedisAddr)
			}
			fmt.Printf("Proxy:          %s\n", httpclient.ProxyInfo(&cfg.Proxy))
			fmt.Printf("Breaker:        %v\n", cfg.Breaker.Enabled)
			fmt.Printf("Environment:    %s\n", cfg.Environment)

			return nil
		},
	}
}

func newConfigInitCmd(flags *globalFlags) *cobra.Command {
	var (
		storeURL  string
		productID int64
		version   string
		slug      string
		siteURL   string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := flags.resolveConfigPath()
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("config file %s already exists (use --overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config file: %w", err)
			}

			parsed, err := url.Parse(storeURL)
			if err != nil {
				return fmt.Errorf("invalid store URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("store URL must use http or https scheme")
			}

			cfg := config.Default()
			cfg.StoreURL = strings.TrimSuffix(storeURL, "/")
			cfg.ProductID = productID
			cfg.Version = version
			cfg.Slug = slug
			cfg.SiteURL = siteURL

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("Configuration saved to %s\n", path)
			fmt.Println("Run 'itelic-updater activate <key>' to activate your license.")
			return nil
		},
	}

	cmd.Flags().StringVar(&storeURL, "store-url", "", "Store URL (required)")
	cmd.Flags().Int64Var(&productID, "product-id", 0, "Product ID (required)")
	cmd.Flags().StringVar(&version, "version", "", "Installed version (required)")
	cmd.Flags().StringVar(&slug, "slug", "", "Installed slug (required)")
	cmd.Flags().StringVar(&siteURL, "site-url", "", "Site URL sent on activation")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing config file")
	_ = cmd.MarkFlagRequired("store-url")
	_ = cmd.MarkFlagRequired("product-id")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("slug")

	return cmd
}
