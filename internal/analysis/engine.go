package analysis

import (
	"fmt"

	"tracelocate/internal/disasm"
	"tracelocate/internal/elfx"
)

// Engine turns a binary image on disk into recovered functions. The
// trace extractor drives analysis through this interface alone, so a
// different backend can stand in for it in tests.
type Engine interface {
	// Load analyzes the image at path. It returns an error when the
	// image cannot be opened or its architecture has no decoder.
	Load(path string) (*Image, error)
}

// ELFEngine is the built-in engine over debug/elf and the x/arch
// decoders.
type ELFEngine struct {
	// Seeders overrides the default seed chain when non-nil.
	Seeders *SeederChain
}

// NewELFEngine returns an engine with the default seeder chain.
func NewELFEngine() *ELFEngine {
	return &ELFEngine{Seeders: DefaultSeeders()}
}

// Load opens the ELF image at path and recovers its functions.
func (e *ELFEngine) Load(path string) (*Image, error) {
	img, err := elfx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	defer img.Close()

	dec, err := disasm.New(img.Machine)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}

	chain := e.Seeders
	if chain == nil {
		chain = DefaultSeeders()
	}
	seeds := chain.Seed(img, nil)

	r := newRecovery(img, dec)
	return &Image{
		Path:  path,
		Arch:  dec.Arch(),
		Entry: img.Entry,
		Funcs: r.run(seeds),
	}, nil
}
