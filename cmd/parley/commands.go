package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parley/internal/config"
	"github.com/kalambet/parley/internal/recovery"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/storage"
)

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List running interview sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		reg := registry.New(cfg.RegistryPath())
		reg.SetPruneThreshold(cfg.Timeouts.PruneAfter)
		listed := reg.List()
		if len(listed) == 0 {
			fmt.Println("No running sessions.")
			return nil
		}

		for _, s := range listed {
			marker := colorize(colorGreen, "●")
			if s.Status == registry.StatusWaiting {
				marker = colorize(colorYellow, "◌")
			}
			fmt.Printf("%s %s\n", marker, colorize(colorBold, s.Title))
			printStatus("URL", "%s", s.URL)
			printStatus("Dir", "%s", registry.DisplayPath(s.Cwd))
			if s.GitBranch != "" {
				printStatus("Branch", "%s", s.GitBranch)
			}
			printStatus("Started", "%s", s.StartedAt.Local().Format(time.RFC822))
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse completed interviews",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent completed interviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		subs, err := store.ListSubmissions(limit, 0)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Println("No completed interviews.")
			return nil
		}

		for _, s := range subs {
			fmt.Printf("%s %s\n", colorize(colorBold, s.ID[:8]), s.Title)
			printStatus("Reason", "%s", s.Reason)
			printStatus("Dir", "%s", registry.DisplayPath(s.Cwd))
			printStatus("Completed", "%s", s.CompletedAt.Local().Format(time.RFC822))
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one completed interview as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sub, err := store.GetSubmission(args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one completed interview from the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteSubmission(args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of entries")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- recoveries ---

var recoveriesCmd = &cobra.Command{
	Use:   "recoveries",
	Short: "List saved recovery records from abandoned interviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		paths, err := recovery.List(cfg.RecoveryDir())
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("No recovery records.")
			return nil
		}
		for _, p := range paths {
			fmt.Println(filepath.Join(cfg.RecoveryDir(), filepath.Base(p)))
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("%s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "valid keys:\n")
			for _, k := range config.ValidKeys() {
				fmt.Fprintf(os.Stderr, "  %s\n", k)
			}
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
