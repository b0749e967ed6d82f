package main

import (
	"flag"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/dudu/livesense/internal/inference"
)

func main() {
	library := flag.String("ort", "", "ONNX Runtime shared library path")
	asJSON := flag.Bool("json", false, "Print the description as JSON")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: modelinfo [options] <model.onnx>...")
		fmt.Fprintln(os.Stderr, "\nPrints the input and output tensors a model declares.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	if err := inference.Initialize(*library); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "\nYou may need to install ONNX Runtime or pass -ort.")
		os.Exit(1)
	}
	defer inference.Shutdown()

	failed := false
	for _, path := range flag.Args() {
		if err := describe(path, *asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func describe(path string, asJSON bool) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	info, err := inference.Describe(path)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := jsoniter.MarshalIndent(struct {
			Model string `json:"model"`
			*inference.ModelInfo
		}{path, info}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Model: %s\n", path)
	fmt.Printf("\nInputs (%d):\n", len(info.Inputs))
	for _, t := range info.Inputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", t.Name, t.Shape, t.DataType)
	}
	fmt.Printf("\nOutputs (%d):\n", len(info.Outputs))
	for _, t := range info.Outputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", t.Name, t.Shape, t.DataType)
	}

	fmt.Println("\nMetadata:")
	if info.Producer != "" {
		fmt.Printf("  Producer: %s\n", info.Producer)
	}
	fmt.Printf("  Version: %d\n", info.Version)
	if info.Description != "" {
		fmt.Printf("  Description: %s\n", info.Description)
	}
	fmt.Println()
	return nil
}
