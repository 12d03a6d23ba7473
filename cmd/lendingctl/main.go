// Command lendingctl is the operator CLI of the lending engine.
//
// Every engine operation has a subcommand. The acting principal is taken from --user and
// --role and mapped to capabilities by the default role policy:
//
//	lendingctl --role librarian --user 0198... material add --copies 3
//	lendingctl --role student --user 0198... loan reserve <material-id>
//	lendingctl --role system sweep overdue
//
// Results are printed as JSON. The exit code reflects the error kind.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schoollibrary/lendingengine/lending"
)

var version = "dev"

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// execute runs one command line and releases the store afterwards.
func execute(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	defer a.close()

	return root.Execute()
}

func exitCode(err error) int {
	switch lending.KindOf(err) {
	case lending.KindValidation:
		return 2
	case lending.KindNotFound:
		return 3
	case lending.KindForbidden:
		return 4
	case lending.KindConflict:
		return 5
	default:
		return 1
	}
}
