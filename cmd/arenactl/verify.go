package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena/verify"
	"github.com/joshuapare/arenakit/internal/mmfile"
)

func init() {
	rootCmd.AddCommand(newVerifyCmd())
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check allocator invariants",
		Long: `The verify command reads an arena image and checks its structural
invariants: header geometry, sequence numbers, free run lists, slot class
lists, and the ownership of every committed page. The file is mapped
read-only without validation, so damaged arenas that fail to open can still
be inspected.

Example:
  arenactl verify heap.arena
  arenactl verify heap.arena --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(args)
		},
	}
	return cmd
}

// Finding is one invariant violation in JSON output.
type Finding struct {
	Type    string         `json:"type"`
	Offset  int            `json:"offset"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// errInvalid is returned after the findings are printed so the exit status
// reflects the result.
var errInvalid = errors.New("arena failed verification")

func runVerify(args []string) error {
	path := args[0]

	printVerbose("Mapping arena: %s\n", path)
	data, unmap, err := mmfile.Map(path)
	if err != nil {
		return fmt.Errorf("failed to read arena: %w", err)
	}
	defer unmap()

	findings := collectFindings(verify.AllInvariants(data))

	if jsonOut {
		if err := printJSON(map[string]any{
			"file":     path,
			"valid":    len(findings) == 0,
			"findings": findings,
		}); err != nil {
			return err
		}
	} else {
		printInfo("\nVerifying %s...\n\n", path)
		if len(findings) == 0 {
			printInfo("✓ All invariants hold\n")
			return nil
		}
		for _, f := range findings {
			if f.Offset >= 0 {
				printInfo("✗ [%s] 0x%X: %s\n", f.Type, f.Offset, f.Message)
			} else {
				printInfo("✗ [%s] %s\n", f.Type, f.Message)
			}
			for k, v := range f.Details {
				printVerbose("    %s: %v\n", k, v)
			}
		}
		printInfo("\n%d problem(s) found\n", len(findings))
	}
	if len(findings) > 0 {
		return errInvalid
	}
	return nil
}

// collectFindings flattens a joined verification error.
func collectFindings(err error) []Finding {
	findings := []Finding{}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ve *verify.ValidationError
		if errors.As(e, &ve) {
			findings = append(findings, Finding{Type: ve.Type, Offset: ve.Offset, Message: ve.Message, Details: ve.Details})
			return
		}
		findings = append(findings, Finding{Type: "Error", Offset: -1, Message: e.Error()})
	}
	walk(err)
	return findings
}
