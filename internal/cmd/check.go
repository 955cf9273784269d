package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/object"
	"github.com/Iron-Ham/livepatch/internal/unit"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Load unit files and report their classes or errors",
	Long: `Load each unit file on its own and print the classes it declares, or
the diagnostic that would make a reload of it fail. The command exits with an
error when any file fails to load.

Units loaded by a checked file through load() are resolved relative to it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkResult is the outcome of loading one unit file.
type checkResult struct {
	Path    string
	Unit    string
	Classes []*object.Class
	Err     error
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	results := checkUnits(afero.NewOsFs(), args)

	failed := printCheckResults(out, stylesFor(out), results)
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to load", failed, len(results))
	}
	return nil
}

// checkUnits loads every path with a fresh loader, so files are checked
// independently of each other.
func checkUnits(fsys afero.Fs, paths []string) []checkResult {
	results := make([]checkResult, 0, len(paths))
	for _, path := range paths {
		name := unit.NameFor(filepath.Dir(path), path)
		res := checkResult{Path: path, Unit: name}

		loader := unit.NewLoader(fsys, nil, nil)
		u, err := loader.Load(name, path)
		if err != nil {
			res.Err = err
		} else {
			res.Classes = u.Classes()
		}
		results = append(results, res)
	}
	return results
}

// printCheckResults writes one block per result and returns how many failed.
func printCheckResults(w io.Writer, st styles, results []checkResult) int {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			status := "FAIL"
			if !errors.IsDefinitionError(res.Err) {
				status = "ERROR"
			}
			fmt.Fprintf(w, "%s %s %s\n", st.fail.Render(status), st.title.Render(res.Unit), st.muted.Render("("+res.Path+")"))
			fmt.Fprintf(w, "    %s\n", diagnostic(res.Err))
			continue
		}

		fmt.Fprintf(w, "%s %s %s\n", st.ok.Render("ok"), st.title.Render(res.Unit), st.muted.Render("("+res.Path+")"))
		if len(res.Classes) == 0 {
			fmt.Fprintf(w, "    %s\n", st.muted.Render("no classes"))
		}
		for _, cls := range res.Classes {
			methods := cls.Methods()
			list := "no methods"
			if len(methods) > 0 {
				list = strings.Join(methods, ", ")
			}
			fmt.Fprintf(w, "    class %s: %s\n", st.class.Render(cls.QualifiedName()), list)
		}
	}
	return failed
}

// diagnostic returns the source-level message of a definition error, or the
// whole error otherwise.
func diagnostic(err error) string {
	var defErr *errors.DefinitionError
	if errors.As(err, &defErr) {
		return defErr.Diagnostic
	}
	return err.Error()
}
