package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mongocfg/pkg/policy"
)

var errPolicyBlocked = errors.New("blocked by policy")

func newValidateCommand() *cobra.Command {
	var (
		src   sourceFlags
		facts factsFlags
	)

	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate parameters and check policies",
		Long: `Resolve and validate parameters without writing anything, then evaluate
the built-in and configured Rego policies against the resolved values.

Configuration conflicts exit with status 2. Policy violations at error or
critical severity exit with status 1 unless policy.fail_on_violation is
turned off in the settings file.`,
		Example: `  # Validate a parameter file
  mongocfg validate params.yaml

  # Validate a script for a RedHat host
  mongocfg validate --script params.star --arch x86_64 --os-family RedHat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(cmd)

			l, err := a.load(ctx, args, &src, &facts)
			if err != nil {
				return err
			}

			artifacts, err := a.generate(ctx, "validate", l)
			if err != nil {
				return err
			}
			eng, err := a.policyEngine(ctx)
			if err != nil {
				return err
			}
			result, err := eng.EvaluateParameters(ctx, l.Target, artifacts.Parameters)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printPolicyResult(cmd.OutOrStdout(), l.Target, result)
			}

			for _, w := range result.Warnings {
				log.Warn().Msg(w)
			}
			if !result.Allowed && a.settings.Policy.FailOnViolation {
				return errPolicyBlocked
			}
			return nil
		},
	}

	src.register(cmd)
	facts.register(cmd)

	return cmd
}

func printPolicyResult(w io.Writer, target string, r *policy.Result) {
	if len(r.Violations) == 0 {
		fmt.Fprintf(w, "%s: valid, %d policies passed\n", target, len(r.EvaluatedPolicies))
		return
	}

	fmt.Fprintf(w, "%s: valid with %d policy findings\n", target, len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(w, "      fix: %s\n", v.Remediation)
		}
	}
}
