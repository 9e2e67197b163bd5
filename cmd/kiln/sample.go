package main

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"kiln/internal/bytecode"
	"kiln/internal/image"
)

// sample is a built-in program used to try the runtime without a compiler.
type sample struct {
	about string
	build func() *bytecode.Function
}

var samples = map[string]sample{
	"fibers":  {"a generator fiber yielding 1, 2 and returning 3", sampleFibers},
	"arith":   {"integer operators on numbers", sampleArith},
	"classes": {"copy-down inheritance", sampleClasses},
	"churn":   {"allocation-heavy loop that keeps the collector busy", sampleChurn},
	"bounds":  {"an out-of-bounds index, reported with a backtrace", sampleBounds},
}

var sampleCmd = &cobra.Command{
	Use:   "sample <name> [-o file]",
	Short: "Write a built-in program image",
	Long:  "Write one of the built-in programs as an image, or list them with --list.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return fmt.Errorf("failed to get list flag: %w", err)
		}
		if list || len(args) == 0 {
			names := make([]string, 0, len(samples))
			for name := range samples {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, samples[name].about)
			}
			return nil
		}

		name := args[0]
		s, ok := samples[name]
		if !ok {
			return fmt.Errorf("unknown sample %q (see kiln sample --list)", name)
		}
		out, err := cmd.Flags().GetString("output")
		if err != nil {
			return fmt.Errorf("failed to get output flag: %w", err)
		}
		if out == "" {
			out = name + image.Ext
		}
		img := image.New(name, s.build())
		img.Source = "kiln sample " + name
		if err := image.WriteFile(out, img); err != nil {
			return err
		}
		abs, _ := filepath.Abs(out)
		noteColor.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", abs)
		return nil
	},
}

func init() {
	sampleCmd.Flags().StringP("output", "o", "", "image path (default <name>.kbc)")
	sampleCmd.Flags().Bool("list", false, "list the available samples")
}

// printTop calls the function below the top argc values and drops its result.
func printTop(b *bytecode.Builder, argc int) *bytecode.Builder {
	return b.Call(argc).Op(bytecode.OpPop)
}

func sampleFibers() *bytecode.Function {
	body := bytecode.NewBuilder("counter", 1).
		Line(2).Number(1).Op(bytecode.OpFiberYield).Op(bytecode.OpPop).
		Line(3).Number(2).Op(bytecode.OpFiberYield).Op(bytecode.OpPop).
		Line(4).Number(3).Return().MustFinish()
	b := bytecode.NewBuilder("", 0).Line(1).
		Closure(body).Op(bytecode.OpFiberNew).DefineGlobal("gen")
	for range 4 {
		b.Line(6).GetGlobal("print").GetGlobal("gen").Number(0).OpByte(bytecode.OpFiberRun, 1)
		printTop(b, 1)
	}
	return b.Nil().Return().MustFinish()
}

func sampleArith() *bytecode.Function {
	b := bytecode.NewBuilder("", 0).Line(1).
		GetGlobal("print").
		Number(5).Number(2).Op(bytecode.OpModulo).
		Number(7).Number(1).Op(bytecode.OpShiftLeft).
		Number(6).Number(3).Op(bytecode.OpBitXor)
	printTop(b, 3)
	return b.Nil().Return().MustFinish()
}

func sampleClasses() *bytecode.Function {
	greet := bytecode.NewBuilder("greet", 0).Line(2).String("base").Return().MustFinish()
	changed := bytecode.NewBuilder("greet", 0).Line(7).String("changed").Return().MustFinish()
	b := bytecode.NewBuilder("", 0).
		Line(1).Class("Base").Closure(greet).Method("greet").DefineGlobal("Base").
		Line(4).Class("Derived").GetGlobal("Base").Op(bytecode.OpInherit).DefineGlobal("Derived").
		Line(6).GetGlobal("Base").Closure(changed).Method("greet").Op(bytecode.OpPop).
		Line(9).GetGlobal("print").
		GetGlobal("Derived").Call(0).Invoke("greet", 0).
		GetGlobal("Base").Call(0).Invoke("greet", 0)
	printTop(b, 2)
	return b.Nil().Return().MustFinish()
}

func sampleChurn() *bytecode.Function {
	const n = 6000
	b := bytecode.NewBuilder("", 0).Line(1)
	b.OpByte(bytecode.OpArray, 0) // slot 1: kept strings
	b.Number(0)                   // slot 2: i
	start := b.Offset()
	b.Line(2).GetLocal(2).Number(n).Op(bytecode.OpLess)
	exit := b.Jump(bytecode.OpJumpIfFalse)
	b.Line(3).GetGlobal("push").GetLocal(1).GetGlobal("str").GetLocal(2).Call(1).Call(2).Op(bytecode.OpPop)
	// Drop everything every 500 elements so most strings die young.
	b.Line(4).GetGlobal("len").GetLocal(1).Call(1).Number(500).Op(bytecode.OpLess)
	keep := b.Jump(bytecode.OpJumpIfTrue)
	b.Line(5).GetGlobal("resize").GetLocal(1).Number(0).Call(2).Op(bytecode.OpPop)
	b.PatchJump(keep)
	b.Line(6).GetLocal(2).Number(1).Op(bytecode.OpAdd).SetLocal(2).Op(bytecode.OpPop)
	b.Loop(start)
	b.PatchJump(exit)
	b.Line(8).GetGlobal("print").String("survivors:").GetGlobal("len").GetLocal(1).Call(1)
	printTop(b, 2)
	return b.GetLocal(1).Return().MustFinish()
}

func sampleBounds() *bytecode.Function {
	lookup := bytecode.NewBuilder("lookup", 1).
		Line(2).GetLocal(1).Number(1).Op(bytecode.OpIndexGet).Return().MustFinish()
	return bytecode.NewBuilder("", 0).
		Line(1).Closure(lookup).DefineGlobal("lookup").
		Line(4).GetGlobal("lookup").OpByte(bytecode.OpArray, 0).Call(1).
		Return().MustFinish()
}
