package cmd

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/teemow/sheetsproxy/internal/sheets"
	"github.com/teemow/sheetsproxy/internal/tools/sheets_tools"
)

const (
	categoryRead  = "Read Tools"
	categoryWrite = "Write Tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for every spreadsheet operation exposed
as an MCP tool. The output is built from the same definitions the server
registers, so it always matches the running tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	markdown := generateToolsMarkdown(sheets.Operations())

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
		return nil
	}
	fmt.Print(markdown)
	return nil
}

func generateToolsMarkdown(ops []*sheets.Operation) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools available when running sheetsproxy as an MCP server. ")
	sb.WriteString("Every tool is also reachable over REST at `POST /api/tools/{name}`.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	byCategory := map[string][]mcp.Tool{}
	for _, op := range ops {
		category := categoryWrite
		if op.ReadOnly {
			category = categoryRead
		}
		byCategory[category] = append(byCategory[category], sheets_tools.NewTool(op))
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	sb.WriteString("## Table of Contents\n\n")
	for _, c := range categories {
		fmt.Fprintf(&sb, "- [%s](#%s)\n", c, strings.ToLower(strings.ReplaceAll(c, " ", "-")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Authentication\n\n")
	sb.WriteString("Send `Authorization: Bearer <mcp token>`. Write tools are not registered when the server runs with `--read-only`.\n\n")

	for _, c := range categories {
		tools := byCategory[c]
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		fmt.Fprintf(&sb, "## %s\n\n", c)
		for _, tool := range tools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}

	if len(tool.InputSchema.Properties) == 0 {
		return sb.String()
	}

	sb.WriteString("**Arguments:**\n")
	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		required := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			required = "required"
		}

		fmt.Fprintf(&sb, "- `%s` (%s, %s): ", name, getPropertyType(prop), required)
		if desc, ok := prop["description"].(string); ok {
			sb.WriteString(desc)
		}
		if enum, ok := prop["enum"].([]string); ok && len(enum) > 0 {
			fmt.Fprintf(&sb, " One of: `%s`.", strings.Join(enum, "`, `"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
