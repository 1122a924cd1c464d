package native

import (
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/mossline/disbatch"
)

// inst is one decoded x86-64 instruction with its resolved static branch
// or call target, when the operand is rip-relative.
type inst struct {
	addr      uint64
	size      int
	text      string
	op        x86asm.Op
	target    uint64
	hasTarget bool
}

// decodeText linearly decodes a text section. Undecodable bytes advance the
// cursor by one so a stray data byte cannot stall the scan.
func decodeText(data []byte, base uint64) []inst {
	insts := make([]inst, 0, len(data)/4)
	off := 0
	for off < len(data) {
		addr := base + uint64(off)
		decoded, err := x86asm.Decode(data[off:], 64)
		if err != nil || decoded.Len == 0 {
			off++
			continue
		}
		in := inst{
			addr: addr,
			size: decoded.Len,
			text: x86asm.GNUSyntax(decoded, addr, nil),
			op:   decoded.Op,
		}
		if rel, ok := decoded.Args[0].(x86asm.Rel); ok {
			in.target = addr + uint64(decoded.Len) + uint64(int64(rel))
			in.hasTarget = true
		}
		insts = append(insts, in)
		off += decoded.Len
	}
	return insts
}

func isCall(op x86asm.Op) bool { return op == x86asm.CALL }
func isRet(op x86asm.Op) bool  { return op == x86asm.RET }

func isUncondJump(op x86asm.Op) bool { return op == x86asm.JMP }

// isCondBranch covers the Jcc family without enumerating every condition
// code; JMP is handled separately.
func isCondBranch(op x86asm.Op) bool {
	return op != x86asm.JMP && strings.HasPrefix(op.String(), "J")
}

func isTerminator(op x86asm.Op) bool {
	return isRet(op) || isUncondJump(op) || isCondBranch(op)
}

// buildBlocks partitions a linear instruction stream into basic blocks.
// Leaders are the first instruction, known function entries, static branch
// and call targets, and instructions following a terminator. Each block's
// calls hold the addresses its control flow can reach: branch targets,
// fallthrough successors, and call destinations. Targets outside the
// decoded region stay in the list; CFG derivation drops them.
func buildBlocks(insts []inst, funcEntries map[uint64]string) []disbatch.Block {
	if len(insts) == 0 {
		return nil
	}

	addrToIdx := make(map[uint64]int, len(insts))
	for i, in := range insts {
		addrToIdx[in.addr] = i
	}

	leaders := map[int]bool{0: true}
	for addr := range funcEntries {
		if i, ok := addrToIdx[addr]; ok {
			leaders[i] = true
		}
	}
	for i, in := range insts {
		if in.hasTarget {
			if j, ok := addrToIdx[in.target]; ok {
				leaders[j] = true
			}
		}
		if isTerminator(in.op) && i+1 < len(insts) {
			leaders[i+1] = true
		}
	}

	starts := make([]int, 0, len(leaders))
	for i := range leaders {
		starts = append(starts, i)
	}
	sort.Ints(starts)

	blocks := make([]disbatch.Block, 0, len(starts))
	for bi, start := range starts {
		end := len(insts)
		if bi+1 < len(starts) {
			end = starts[bi+1]
		}
		block := disbatch.Block{
			AddrStart: insts[start].addr,
			AddrEnd:   insts[end-1].addr + uint64(insts[end-1].size),
			Name:      funcEntries[insts[start].addr],
		}

		seen := make(map[uint64]bool)
		addCall := func(addr uint64) {
			if !seen[addr] {
				seen[addr] = true
				block.Calls = append(block.Calls, addr)
			}
		}

		for i := start; i < end; i++ {
			in := insts[i]
			block.Ins = append(block.Ins, in.text)
			if isCall(in.op) && in.hasTarget {
				addCall(in.target)
			}
		}

		last := insts[end-1]
		switch {
		case isRet(last.op):
			// no successors
		case isUncondJump(last.op):
			if last.hasTarget {
				addCall(last.target)
			}
		case isCondBranch(last.op):
			if last.hasTarget {
				addCall(last.target)
			}
			addCall(last.addr + uint64(last.size))
		default:
			addCall(last.addr + uint64(last.size))
		}
		if block.Calls == nil {
			block.Calls = []uint64{}
		}
		blocks = append(blocks, block)
	}
	return blocks
}
