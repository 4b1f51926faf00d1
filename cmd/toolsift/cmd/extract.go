package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/efortin/toolsift/pkg/parser"
	"github.com/efortin/toolsift/pkg/registry"
)

var (
	extractInput         string
	extractToolsFile     string
	extractMaxValueBytes int
	extractMaxNameBytes  int
	extractNoEntities    bool
	extractValidateNames bool
	extractPretty        bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the tool call from a complete assistant message",
	Long: `Read a complete assistant message and print the extracted tool call
as JSON: {"tool_name": ..., "parameters": {...}} with parameters in source
order. Input comes from --input, or stdin when --input is "-".

With --tools-file, the extracted call is additionally validated against the
registry (known tool, required parameters present).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if extractInput == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(extractInput)
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		opts := parser.Options{
			MaxParameterValueLength: extractMaxValueBytes,
			MaxToolNameLength:       extractMaxNameBytes,
			DisableEntityDecoding:   extractNoEntities,
			ValidateNames:           extractValidateNames,
		}
		call, err := parser.ParseToolCallWithOptions(string(data), opts)
		if err != nil {
			return err
		}

		if extractToolsFile != "" {
			reg, err := registry.Load(extractToolsFile)
			if err != nil {
				return err
			}
			if err := reg.Validate(call); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		if extractPretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(call)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&extractInput, "input", "-", "Input file, or '-' for stdin")
	extractCmd.Flags().StringVar(&extractToolsFile, "tools-file", getEnvOrDefault("TOOLSIFT_TOOLS_FILE", ""), "YAML tool registry file to validate against")
	extractCmd.Flags().IntVar(&extractMaxValueBytes, "max-value-bytes", 0, "Cap on a single parameter value in bytes (0 = unbounded)")
	extractCmd.Flags().IntVar(&extractMaxNameBytes, "max-name-bytes", 0, "Cap on the tag name accumulator in bytes (0 = default 256)")
	extractCmd.Flags().BoolVar(&extractNoEntities, "no-entity-decoding", false, "Leave XML entity references verbatim in values")
	extractCmd.Flags().BoolVar(&extractValidateNames, "validate-names", false, "Reject tag names outside letters, digits, '_', '-' and '.'")
	extractCmd.Flags().BoolVar(&extractPretty, "pretty", false, "Indent the JSON output")
}
