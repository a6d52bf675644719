package txn

import (
	"encoding/binary"
	"strconv"
)

// AccountMeta references one account in an instruction.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// ClockSysvar is the Solana clock sysvar account.
var ClockSysvar = MustPubkey("SysvarC1ock11111111111111111111111111111111")

// Opcodes of the perpetuals program instructions the keeper submits.
const (
	opPushPrice byte = 2
	opCrank     byte = 3
)

// PermissionlessCallerIdx is the sentinel caller index marking a
// permissionless crank.
const PermissionlessCallerIdx uint16 = 0xFFFF

// NewCrankInstruction builds the permissionless crank instruction.
// Account ordering {payer, market, clock, oracle} is fixed by the
// program.
func NewCrankInstruction(program, payer, market, oracle Pubkey, allowPanic bool) Instruction {
	data := make([]byte, 4)
	data[0] = opCrank
	binary.LittleEndian.PutUint16(data[1:3], PermissionlessCallerIdx)
	if allowPanic {
		data[3] = 1
	}

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: market, IsWritable: true},
			{Pubkey: ClockSysvar},
			{Pubkey: oracle},
		},
		Data: data,
	}
}

// NewPushPriceInstruction builds the admin-oracle price push. The
// program takes both numbers as decimal strings.
func NewPushPriceInstruction(program, payer, market, oracle Pubkey, priceE6 uint64, timestampSecs int64) Instruction {
	data := []byte{opPushPrice}
	data = appendString(data, strconv.FormatUint(priceE6, 10))
	data = appendString(data, strconv.FormatInt(timestampSecs, 10))

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: market},
			{Pubkey: ClockSysvar},
			{Pubkey: oracle, IsWritable: true},
		},
		Data: data,
	}
}

// appendString encodes a length-prefixed string (u32 LE + bytes).
func appendString(data []byte, s string) []byte {
	data = binary.LittleEndian.AppendUint32(data, uint32(len(s)))
	return append(data, s...)
}
