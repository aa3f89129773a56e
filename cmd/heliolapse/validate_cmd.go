// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/run"
	"github.com/heliolapse/heliolapse/internal/validate"
)

// validateTarget runs the frame validator over a file or directory.
func validateTarget(path string, cfg config.AppConfig) int {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return run.ExitFatal
	}

	var problems []validate.Problem
	checked := 1
	if info.IsDir() {
		problems, checked = validate.Dir(path, cfg.Composite)
	} else {
		problems = validate.Frame(path, cfg.Composite)
	}

	for _, p := range problems {
		fmt.Println(p)
	}
	fmt.Printf("checked %d frame(s), %d problem(s)\n", checked, len(problems))
	if len(problems) > 0 {
		return run.ExitFatal
	}
	return run.ExitSuccess
}
