package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-safety/pkg/config"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/policy/builtin"
	"github.com/polisai/polis-safety/pkg/storage"
)

func newPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the built-in policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tNEEDS\tDESCRIPTION")
			for _, e := range builtin.Default().Entries() {
				needs := strings.Join(e.Capabilities, ",")
				if needs == "" {
					needs = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, needs, e.Description)
			}
			return tw.Flush()
		},
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and build its policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cmd, cfg)
			chain, err := buildChain(cmd.Context(), cfg, nil, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d policies\n", chain.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		mapPath  string
		vaultDir string
		recordID string
		index    int
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reverse the replacements of one item read from stdin",
		Long: `Reads transformed text on stdin and prints the original text, using either a
transformation map JSON file (--map) or a vault record (--vault-dir and --id).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text := strings.TrimRight(string(data), "\r\n")

			var restored string
			switch {
			case mapPath != "":
				m, err := readMap(mapPath)
				if err != nil {
					return err
				}
				restored, err = m.Restore(index, text)
				if err != nil {
					return err
				}
			case vaultDir != "" && recordID != "":
				vault, err := storage.NewFileMapVault(vaultDir)
				if err != nil {
					return err
				}
				restored, err = vault.Restore(cmd.Context(), recordID, index, text)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("either --map or --vault-dir with --id is required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), restored)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mapPath, "map", "m", "", "Transformation map JSON file")
	cmd.Flags().StringVar(&vaultDir, "vault-dir", "", "Vault directory written by run --vault-dir")
	cmd.Flags().StringVar(&recordID, "id", "", "Vault record id")
	cmd.Flags().IntVarP(&index, "index", "i", 0, "Input item index")
	return cmd
}

func readMap(path string) (domain.TransformationMap, error) {
	//nolint:gosec // Map file path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file %s: %w", path, err)
	}
	var m domain.TransformationMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse map file %s: %w", path, err)
	}
	return m, nil
}
