// Package analysis recovers functions and basic blocks from ELF images.
// It seeds recovery from symbols, the entry point and prologue sweeps,
// then walks the decoded control flow so callers can iterate functions,
// blocks and instructions without touching the decoder directly.
package analysis

// Bounds for block recovery
const (
	// MaxFunctionBytes caps how far recovery decodes past a function
	// entry when no symbol size or neighboring entry bounds it.
	MaxFunctionBytes = 1 << 20

	// MaxFunctionInstructions caps the instruction count of a single
	// function. Anything larger is runaway decoding inside data.
	MaxFunctionInstructions = 1 << 16

	// MaxSeedRounds bounds the call-target discovery loop. Each round
	// recovers the targets found by the previous one.
	MaxSeedRounds = 8

	// MaxDecodeBytes is the longest encoding the decoders accept.
	MaxDecodeBytes = 15
)
