// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
	"github.com/kanso-lang/bril-core/internal/pipeline"
)

func main() {
	passList := flag.String("pass", "lvn,tdce", "comma-separated passes to run: lvn, tdce, ssa, licm")
	ssaMode := flag.Bool("ssa", false, "run licm through an SSA round trip")
	flag.Parse()

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

	p := &pipeline.Pipeline{}
	for _, name := range strings.Split(*passList, ",") {
		switch strings.TrimSpace(name) {
		case "lvn":
			p.AddPass(&pipeline.LVNPass{})
		case "tdce":
			p.AddPass(&pipeline.TDCEPass{})
		case "ssa":
			p.AddPass(&pipeline.SSAPass{})
		case "licm":
			p.AddPass(&pipeline.LICMPass{SSAMode: *ssaMode})
		case "":
			// allows a trailing comma without complaint
		default:
			color.Red("unknown pass %q", name)
			os.Exit(1)
		}
	}

	if err := p.Run(prog); err != nil {
		color.Red("%s", diag.Render(err))
		os.Exit(1)
	}

	out, err := ir.Encode(prog)
	if err != nil {
		color.Red("failed to encode program: %s", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
