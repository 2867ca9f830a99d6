package riscv

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// archFlags is a bitmask of ISA extension letters (bit = letter-'A').
type archFlags uint32

const (
	archA archFlags = 1 << ('A' - 'A')
	archC archFlags = 1 << ('C' - 'A')
	archN archFlags = 1 << ('N' - 'A')
	archS archFlags = 1 << ('S' - 'A')
	archU archFlags = 1 << ('U' - 'A')
)

// parseArch converts an extension-letter string like "ACSUN" into flags.
func parseArch(s string) (archFlags, error) {
	var flags archFlags
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid arch letter %q in %q", r, s)
		}
		flags |= 1 << (r - 'A')
	}
	return flags, nil
}

// PrivVersion selects the privileged-specification version modelled.
type PrivVersion int

const (
	PrivVersion1_11 PrivVersion = iota
	PrivVersion1_12
)

// DebugModeKind selects how Debug-Mode entry is realised.
type DebugModeKind string

const (
	DebugModeNone      DebugModeKind = "none"
	DebugModeInterrupt DebugModeKind = "interrupt"
	DebugModeVector    DebugModeKind = "vector"
	DebugModeHalt      DebugModeKind = "halt"
)

// Config holds the variant options of a hart cluster.
type Config struct {
	// ISA extension letters, e.g. "ACSUN". I and M are implied.
	Arch string `yaml:"arch"`

	// Privileged specification version: "1.11" or "1.12".
	PrivVersionName string `yaml:"priv_version"`

	XLEN     int `yaml:"xlen"`
	NumHarts int `yaml:"num_harts"`

	XRETPreservesLR bool   `yaml:"xret_preserves_lr"`
	TvalZero        bool   `yaml:"tval_zero"`
	TvalIICode      bool   `yaml:"tval_ii_code"`
	EcodeNMI        uint64 `yaml:"ecode_nmi"`

	ResetAddress uint64        `yaml:"reset_address"`
	NMIAddress   uint64        `yaml:"nmi_address"`
	DebugAddress uint64        `yaml:"debug_address"`
	DexcAddress  uint64        `yaml:"dexc_address"`
	DebugMode    DebugModeKind `yaml:"debug_mode"`

	LocalIntNum   int    `yaml:"local_int_num"`
	ExternalIntID bool   `yaml:"external_int_id"`
	UnimpIntMask  uint64 `yaml:"unimp_int_mask"`

	// CLIC options.
	CLIC           bool   `yaml:"clic"`
	MCLICBase      uint64 `yaml:"mclicbase"`
	CLICCFGMBITS   uint8  `yaml:"cliccfgmbits"`
	CLICSELHVEC    bool   `yaml:"clicselhvec"`
	CLICINTCTLBITS uint8  `yaml:"clicintctlbits"`
	CLICVERSION    uint8  `yaml:"clicversion"`

	// Verbose memory-exception reporting and interrupt-state tracing.
	Verbose     bool `yaml:"verbose"`
	DebugExcept bool `yaml:"debug_except"`

	archMask    archFlags
	privVersion PrivVersion
}

// DefaultConfig returns an RV64 M/S/U variant with the CLIC and Debug-Mode
// disabled.
func DefaultConfig() *Config {
	cfg := &Config{
		Arch:            "ACSU",
		PrivVersionName: "1.12",
		XLEN:            64,
		NumHarts:        1,
		ResetAddress:    0x8000_0000,
		NMIAddress:      0x8000_0000,
		DebugMode:       DebugModeNone,
		MCLICBase:       0x0c00_0000,
		CLICCFGMBITS:    2,
		CLICINTCTLBITS:  8,
		CLICVERSION:     0x11,
	}
	if err := cfg.finalize(); err != nil {
		panic(err)
	}
	return cfg
}

// finalize validates the options and derives internal fields.
func (cfg *Config) finalize() error {
	mask, err := parseArch(cfg.Arch)
	if err != nil {
		return err
	}
	cfg.archMask = mask

	switch cfg.PrivVersionName {
	case "", "1.12":
		cfg.privVersion = PrivVersion1_12
	case "1.11":
		cfg.privVersion = PrivVersion1_11
	default:
		return fmt.Errorf("unsupported priv_version %q", cfg.PrivVersionName)
	}

	switch cfg.XLEN {
	case 0:
		cfg.XLEN = 64
	case 32, 64:
	default:
		return fmt.Errorf("unsupported xlen %d", cfg.XLEN)
	}

	if cfg.NumHarts <= 0 {
		cfg.NumHarts = 1
	}
	if cfg.LocalIntNum < 0 {
		return fmt.Errorf("local_int_num must not be negative")
	}

	switch cfg.DebugMode {
	case "", DebugModeNone:
		cfg.DebugMode = DebugModeNone
	case DebugModeInterrupt, DebugModeVector, DebugModeHalt:
	default:
		return fmt.Errorf("unsupported debug_mode %q", cfg.DebugMode)
	}

	// CLICCFGMBITS may not exceed the bits needed to encode the highest
	// implemented mode.
	maxMBits := uint8(0)
	if mask&archS != 0 {
		maxMBits = 2
	} else if mask&archU != 0 {
		maxMBits = 1
	}
	if cfg.CLICCFGMBITS > maxMBits {
		cfg.CLICCFGMBITS = maxMBits
	}
	if cfg.CLICINTCTLBITS == 0 || cfg.CLICINTCTLBITS > 8 {
		cfg.CLICINTCTLBITS = 8
	}

	return nil
}

// hasMode reports whether a privilege mode is implemented.
func (cfg *Config) hasMode(m Mode) bool {
	switch m {
	case ModeMachine:
		return true
	case ModeSupervisor:
		return cfg.archMask&archS != 0
	case ModeUser:
		return cfg.archMask&archU != 0
	default:
		return false
	}
}

// minMode returns the lowest implemented privilege mode.
func (cfg *Config) minMode() Mode {
	if cfg.hasMode(ModeUser) {
		return ModeUser
	}
	return ModeMachine
}

// LoadConfig reads a yaml variant description, applying defaults for
// unspecified options.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
