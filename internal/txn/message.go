package txn

import (
	"errors"
	"fmt"
	"sort"
)

// MaxPacketSize is the wire limit for one signed transaction. A
// transaction exceeding it is a deterministic, permanent failure.
const MaxPacketSize = 1232

var (
	ErrTooLarge     = errors.New("transaction exceeds wire size limit")
	ErrNoInstrs     = errors.New("no instructions")
	ErrBadBlockhash = errors.New("invalid recent blockhash")
)

type compiledKey struct {
	key      Pubkey
	signer   bool
	writable bool
	order    int // First-seen order, for stable output
}

// BuildAndSign compiles instructions into a legacy message signed by
// the payer and returns the wire-encoded transaction plus its base58
// signature.
func BuildAndSign(instrs []Instruction, payer *Keypair, recentBlockhash string) (wire []byte, signature string, err error) {
	if len(instrs) == 0 {
		return nil, "", ErrNoInstrs
	}

	blockhash, err := base58Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, "", fmt.Errorf("%w: %q", ErrBadBlockhash, recentBlockhash)
	}

	keys := compileKeys(instrs, payer.Pubkey())
	msg, err := encodeMessage(keys, instrs, blockhash)
	if err != nil {
		return nil, "", err
	}

	sig := payer.Sign(msg)

	wire = make([]byte, 0, 1+len(sig)+len(msg))
	wire = appendCompactU16(wire, 1)
	wire = append(wire, sig...)
	wire = append(wire, msg...)

	if len(wire) > MaxPacketSize {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(wire))
	}

	return wire, base58Encode(sig), nil
}

// compileKeys merges every referenced account into the canonical
// ordering: signer-writable, signer-readonly, writable, readonly.
// The payer is always index 0.
func compileKeys(instrs []Instruction, payer Pubkey) []compiledKey {
	byKey := make(map[Pubkey]*compiledKey)
	order := 0

	upsert := func(pk Pubkey, signer, writable bool) {
		if k, ok := byKey[pk]; ok {
			k.signer = k.signer || signer
			k.writable = k.writable || writable
			return
		}
		byKey[pk] = &compiledKey{key: pk, signer: signer, writable: writable, order: order}
		order++
	}

	upsert(payer, true, true)
	for _, ix := range instrs {
		for _, m := range ix.Accounts {
			upsert(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		upsert(ix.ProgramID, false, false)
	}

	keys := make([]compiledKey, 0, len(byKey))
	for _, k := range byKey {
		keys = append(keys, *k)
	}

	rank := func(k compiledKey) int {
		switch {
		case k.key == payer:
			return 0
		case k.signer && k.writable:
			return 1
		case k.signer:
			return 2
		case k.writable:
			return 3
		default:
			return 4
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i].order < keys[j].order
	})

	return keys
}

func encodeMessage(keys []compiledKey, instrs []Instruction, blockhash []byte) ([]byte, error) {
	idx := make(map[Pubkey]int, len(keys))
	var numSigners, numROSigned, numROUnsigned int
	for i, k := range keys {
		idx[k.key] = i
		if k.signer {
			numSigners++
			if !k.writable {
				numROSigned++
			}
		} else if !k.writable {
			numROUnsigned++
		}
	}

	msg := make([]byte, 0, 256)
	msg = append(msg, byte(numSigners), byte(numROSigned), byte(numROUnsigned))

	msg = appendCompactU16(msg, len(keys))
	for _, k := range keys {
		msg = append(msg, k.key[:]...)
	}

	msg = append(msg, blockhash...)

	msg = appendCompactU16(msg, len(instrs))
	for _, ix := range instrs {
		progIdx, ok := idx[ix.ProgramID]
		if !ok {
			return nil, fmt.Errorf("program %s not compiled", ix.ProgramID)
		}
		msg = append(msg, byte(progIdx))

		msg = appendCompactU16(msg, len(ix.Accounts))
		for _, m := range ix.Accounts {
			ai, ok := idx[m.Pubkey]
			if !ok {
				return nil, fmt.Errorf("account %s not compiled", m.Pubkey)
			}
			msg = append(msg, byte(ai))
		}

		msg = appendCompactU16(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}

	return msg, nil
}

// appendCompactU16 encodes the Solana shortvec length prefix.
func appendCompactU16(b []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(b, byte(v))
		}
		b = append(b, byte(v&0x7F)|0x80)
		v >>= 7
	}
}
