// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
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

	for _, fn := range prog.Functions {
		c, err := cfg.Build(fn)
		if err != nil {
			color.Red("%s", diag.Render(err))
			os.Exit(1)
		}
		fn.Instrs = cfg.Linearize(c)
	}

	out, err := ir.Encode(prog)
	if err != nil {
		color.Red("failed to encode program: %s", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
