package core

import (
	"golang.org/x/sys/cpu"
)

// HasBMI2 reports whether the CPU supports the BMI2 instruction set.
// Learned indexes that interleave coordinates with PDEP/PEXT rely on it.
func HasBMI2() bool {
	return cpu.X86.HasBMI2
}
