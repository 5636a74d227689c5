package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BaSui01/flowpilot/workflow/dsl"
)

// validate 不需要运行时，只解析文件；目录参数校验其中全部工作流
func newValidateCmd(_ *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yml|dir>...",
		Short: "Parse and validate workflow files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			parser := dsl.NewParser()

			var errs []error
			report := func(path string, doc *dsl.Document, err error) {
				if err != nil {
					fmt.Fprintf(out, "✘ %s: %v\n", path, err)
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					return
				}
				printDocument(out, path, doc)
			}

			for _, path := range args {
				if fi, err := os.Stat(path); err == nil && fi.IsDir() {
					if err := validateDir(path, report); err != nil {
						report(path, nil, err)
					}
					continue
				}
				doc, err := parser.ParseFile(path)
				report(path, doc, err)
			}
			return errors.Join(errs...)
		},
	}
}

func validateDir(dir string, report func(string, *dsl.Document, error)) error {
	store := dsl.NewDocumentStore(dir, nil)
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("no workflow files in %s", dir)
	}
	for _, info := range infos {
		if info.Invalid != nil {
			report(info.Path, nil, info.Invalid)
			continue
		}
		doc, err := store.Load(info.Name)
		report(info.Path, doc, err)
	}
	return nil
}

func printDocument(out io.Writer, path string, doc *dsl.Document) {
	steps := dsl.ExtractTaskSteps(doc)
	fmt.Fprintf(out, "✔ %s: %q, %d job(s), %d task step(s)\n", path, doc.Name, doc.Jobs.Len(), len(steps))
	for _, ts := range steps {
		fmt.Fprintf(out, "    %d. %s/%s\n", ts.Index+1, ts.JobName, ts.ID())
	}
}
