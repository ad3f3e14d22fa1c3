package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/gridstore/internal/validation"
	"evalgo.org/gridstore/pkg/client"
)

var (
	validateAPI   string
	validateToken string
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a resource envelope",
	Long: `Validate a JSON resource envelope without storing it.

Validation runs locally unless --api is given, in which case the document is
posted to the server's /api/v1/validate endpoint.

Examples:
  gridstore validate substation.json
  gridstore validate load.json --api http://localhost:8080 --token $TOKEN`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateAPI, "api", "", "server base URL (default: validate locally)")
	validateCmd.Flags().StringVar(&validateToken, "token", "", "bearer token for the server")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var result *validation.ValidationResult
	if validateAPI == "" {
		result = validation.New().ValidateDocument(data)
	} else {
		result, err = validateRemote(validateAPI, validateToken, data)
		if err != nil {
			return err
		}
	}

	return printValidation(cmd.OutOrStdout(), result)
}

// validateRemote posts the document to the validate endpoint of apiURL.
func validateRemote(apiURL, token string, data []byte) (*validation.ValidationResult, error) {
	c, err := client.New(apiURL, client.WithToken(token))
	if err != nil {
		return nil, err
	}
	return c.Validate(context.Background(), data)
}

func printValidation(w io.Writer, result *validation.ValidationResult) error {
	if result.Valid {
		fmt.Fprintln(w, "✓ Document is valid")
		return nil
	}

	fmt.Fprintln(w, "✗ Validation failed:")
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Fprintf(w, "  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Fprintf(w, "  - %s: %s\n", e.Field, e.Message)
		}
	}

	return fmt.Errorf("validation failed")
}
