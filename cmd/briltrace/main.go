// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
	"github.com/kanso-lang/bril-core/internal/trace"
)

func main() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		color.Red("failed to read program: %s", err)
		os.Exit(1)
	}

	prog, err := ir.Decode(data)
	if err != nil {
		color.Red("%s", diag.Render(err))
		os.Exit(1)
	}

	out, err := trace.Inject(prog)
	if err != nil {
		color.Red("%s", diag.Render(err))
		os.Exit(1)
	}

	encoded, err := ir.Encode(out)
	if err != nil {
		color.Red("failed to encode program: %s", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
