package analysis

// Instruction is one decoded machine instruction inside a basic block.
type Instruction struct {
	VA       uint64
	Mnemonic string
	Size     int
}

// BasicBlock is a maximal straight-line run of instructions. A block is
// entered only at its first instruction and left only at its last; calls
// do not end a block because control returns to the next instruction.
type BasicBlock struct {
	Start uint64
	Insts []Instruction
}

// End returns the address one past the last instruction.
func (b BasicBlock) End() uint64 {
	end := b.Start
	for _, in := range b.Insts {
		end = in.VA + uint64(in.Size)
	}
	return end
}

// Function is a recovered function with its basic blocks sorted by
// start address.
type Function struct {
	Entry  uint64
	Name   string
	Source string
	Blocks []BasicBlock
}

// Image is the analyzed view of one binary image.
type Image struct {
	Path  string
	Arch  string
	Entry uint64
	Funcs []Function
}

// Functions returns the recovered functions sorted by entry address.
func (im *Image) Functions() []Function {
	return im.Funcs
}
