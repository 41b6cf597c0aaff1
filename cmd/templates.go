package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/litstack/litreview/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect summarization prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available prompt templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		templates, err := prompt.LoadDir(cfg.Prompt.TemplatesDir)
		if err != nil {
			return err
		}
		formatTemplatesList(os.Stdout, templates, cfg.Prompt.DefaultType)
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <type>",
	Short: "Show one template's prompts and fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := prompt.LoadDir(cfg.Prompt.TemplatesDir)
		if err != nil {
			return err
		}
		tpl, ok := templates[strings.ToLower(args[0])]
		if !ok {
			return eris.Errorf("no template of type %q", args[0])
		}
		formatTemplate(os.Stdout, tpl)
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	rootCmd.AddCommand(templatesCmd)
}

// formatTemplatesList writes a tabular template inventory to out.
func formatTemplatesList(out io.Writer, templates map[string]*prompt.Template, defaultType string) {
	types := make([]string, 0, len(templates))
	for typ := range templates {
		types = append(types, typ)
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tNAME\tFIELDS\tDEFAULT")
	for _, typ := range types {
		tpl := templates[typ]
		marker := ""
		if strings.EqualFold(typ, defaultType) {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			tpl.Type, tpl.Name, strings.Join(tpl.Fields, ", "), marker)
	}
	_ = w.Flush()
}

// formatTemplate writes one template in full to out.
func formatTemplate(out io.Writer, tpl *prompt.Template) {
	fmt.Fprintf(out, "Type:   %s\n", tpl.Type)
	fmt.Fprintf(out, "Name:   %s\n", tpl.Name)
	fmt.Fprintf(out, "Fields: %s\n", strings.Join(tpl.Fields, ", "))
	fmt.Fprintf(out, "\nSystem prompt:\n%s\n", tpl.System)
	fmt.Fprintf(out, "\nUser template:\n%s\n", tpl.UserTemplate)
	if len(tpl.DefaultValues) > 0 {
		fmt.Fprintln(out, "\nDefaults:")
		fields := make([]string, 0, len(tpl.DefaultValues))
		for f := range tpl.DefaultValues {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(out, "  %s: %s\n", f, tpl.DefaultValues[f])
		}
	}
}
