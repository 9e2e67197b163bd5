package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kiln/internal/bytecode"
	"kiln/internal/image"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <image.kbc>...",
	Short: "Print the instructions of program images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for i, path := range args {
			img, err := image.ReadFile(path)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Fprintln(out)
			}
			noteColor.Fprintf(out, "; %s (module %s, schema %d)\n", path, img.Module, img.Schema)
			if img.Source != "" {
				dimColor.Fprintf(out, "; source %s\n", img.Source)
			}
			if err := bytecode.Disassemble(out, img.Entry); err != nil {
				return err
			}
		}
		return nil
	},
}
