// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// TestMain lets testscript run the CLI in-process as the "modhost" command.
func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"modhost": Execute,
	})
}

// TestCLI runs all testscript tests in the testdata directory.
func TestCLI(t *testing.T) {
	t.Parallel()

	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			// Config and module root live inside the script's work directory.
			env.Setenv("HOME", env.WorkDir)
			env.Setenv("XDG_CONFIG_HOME", filepath.Join(env.WorkDir, ".config"))
			env.Setenv("MODHOST_HOST_VERSION", "2.0.0")
			env.Setenv("NO_COLOR", "1")
			return nil
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkzip": cmdMkzip,
		},
		// Continue running all tests even if one fails
		ContinueOnError: true,
	})
}

// cmdMkzip builds an archive verbatim, bypassing the manifest checks of
// `modhost module pack`.
//
//	mkzip out.zip entry=file...
//
// Each entry name is written as given, so hostile names such as
// ../escape.txt can be produced.
func cmdMkzip(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkzip")
	}
	if len(args) < 2 {
		ts.Fatalf("usage: mkzip out.zip entry=file...")
	}

	f, err := os.Create(ts.MkAbs(args[0]))
	ts.Check(err)
	zw := zip.NewWriter(f)
	for _, arg := range args[1:] {
		name, src, ok := strings.Cut(arg, "=")
		if !ok {
			ts.Fatalf("mkzip: %q is not entry=file", arg)
		}
		w, err := zw.Create(name)
		ts.Check(err)
		_, err = w.Write([]byte(ts.ReadFile(src)))
		ts.Check(err)
	}
	ts.Check(zw.Close())
	ts.Check(f.Close())
}
