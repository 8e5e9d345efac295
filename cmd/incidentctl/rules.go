package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incidents/internal/engine"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Root-cause rule pack management",
	}
	cmd.AddCommand(newRulesValidateCmd(a))
	return cmd
}

func newRulesValidateCmd(a *app) *cobra.Command {
	var rulesPath, playbooksPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the rule pack and playbook table",
		Long:  "Load the configured rule pack and playbook table, report their contents and list rules without a playbook.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if rulesPath != "" {
				cfg.Rules.Path = rulesPath
			}
			if playbooksPath != "" {
				cfg.Playbooks.Path = playbooksPath
			}

			rules, err := engine.LoadRuleSet(cfg.Rules.Path)
			if err != nil {
				return err
			}
			playbooks, err := engine.LoadPlaybooks(cfg.Playbooks.Path)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "rules: %d (fallback %s)\n", len(rules.Rules), rules.Fallback.Name)
			for _, rule := range rules.Rules {
				meta := rule.Meta()
				line := fmt.Sprintf("  %-24s kind=%s confidence=%.2f", meta.Name, rule.Kind(), meta.Confidence)
				if _, ok := playbooks.Lookup(meta.Name); !ok {
					line += " (no playbook)"
				}
				fmt.Fprintln(a.stdout, line)
			}
			fmt.Fprintf(a.stdout, "playbooks: %d\n", playbooks.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rule pack to validate (default: rules.path from config)")
	cmd.Flags().StringVar(&playbooksPath, "playbooks", "", "playbook table to validate (default: playbooks.path from config)")
	return cmd
}
