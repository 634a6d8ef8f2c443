package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobcrawler/internal/extract"
)

func newValidateSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "validate-schema <file>",
		Short:       "Check an API extraction schema without contacting the API",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read schema: %w", err)
			}
			schema, err := extract.ParseSchema(string(raw))
			if err != nil {
				return failed(err)
			}
			secrets := schema.SecretNames()
			if secrets == nil {
				secrets = []string{}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"valid":   true,
				"host":    schema.Host(),
				"secrets": secrets,
			})
		},
	}
}
