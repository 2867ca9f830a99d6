package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tinyrange/hart/internal/riscv"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a yaml variant configuration")
		imagePath  = flag.String("image", "", "Memory image to load at the reset address")
		memSize    = flag.Uint64("mem", 0x100000, "RAM size in bytes")
		steps      = flag.Int("steps", 100, "Number of instruction slots to run")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := run(*configPath, *imagePath, *memSize, *steps, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "hartsim: %v\n", err)
		os.Exit(1)
	}
}

// run builds a cluster from the configuration and exercises trap delivery:
// a timer interrupt is raised against hart 0 and the resulting redirect
// reported.
func run(configPath, imagePath string, memSize uint64, steps int, verbose bool) error {
	var cfg *riscv.Config
	if configPath != "" {
		loaded, err := riscv.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = riscv.DefaultConfig()
	}
	if verbose {
		cfg.Verbose = true
	}

	cluster, err := riscv.NewCluster(cfg, memSize, nil)
	if err != nil {
		return err
	}

	if imagePath != "" {
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if err := cluster.Bus.LoadImage(cfg.ResetAddress, image); err != nil {
			return fmt.Errorf("load image: %w", err)
		}
	}

	h := cluster.Hart(0)

	// direct-mode handler at the reset address, timer interrupt armed
	if err := h.CSRWrite(riscv.CSRMtvec, cfg.ResetAddress); err != nil {
		return err
	}
	if err := h.CSRWrite(riscv.CSRMie, 1<<7); err != nil {
		return err
	}
	if err := h.CSRWrite(riscv.CSRMstatus, 1<<3); err != nil {
		return err
	}
	if err := h.Signal("MTimerInterrupt", 1); err != nil {
		return err
	}

	if err := cluster.Run(h, nil, steps); err != nil && err != riscv.ErrHalt {
		return err
	}

	mcause, _ := h.CSRRead(riscv.CSRMcause)
	fmt.Printf("hart 0: pc=0x%x mode=%s mcause=0x%x instret=%d\n",
		h.PC, h.Priv, mcause, h.Instret())

	return nil
}
