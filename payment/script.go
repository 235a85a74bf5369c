package payment

import (
	"bytes"
	"encoding/binary"

	"github.com/kasperience/kdapp-sub000/episode"
)

// Script opcodes relevant to the three allowed output policies (spec §4.5),
// grounded on original_source's script.rs.
const (
	opPushData1     = 0x4c
	opPushData2     = 0x4d
	opPushData4     = 0x4e
	opCheckSig      = 0xac
	opCheckMultisig = 0xae
	op1             = 0x51
	opSmallIntBase  = 0x50 // OP_m = opSmallIntBase + m, m in 1..16
)

// NormalizeScript rewrites any PUSHDATA1/2/4 opcode whose payload would fit
// a direct push into the minimal direct-push encoding. It never lengthens a
// script and is idempotent: re-normalizing an already-normalized script
// yields the same bytes (spec §8 property 5).
func NormalizeScript(script []byte) []byte {
	out := make([]byte, 0, len(script))
	i := 0
	for i < len(script) {
		op := script[i]
		switch {
		case op >= 1 && op <= 75:
			n := int(op)
			if i+1+n > len(script) {
				return append(out, script[i:]...)
			}
			out = append(out, script[i:i+1+n]...)
			i += 1 + n
		case op == opPushData1:
			if i+1 >= len(script) {
				return append(out, script[i:]...)
			}
			n := int(script[i+1])
			start := i + 2
			if start+n > len(script) {
				return append(out, script[i:]...)
			}
			out = append(out, canonicalPush(script[start:start+n])...)
			i = start + n
		case op == opPushData2:
			if i+2 >= len(script) {
				return append(out, script[i:]...)
			}
			n := int(binary.LittleEndian.Uint16(script[i+1 : i+3]))
			start := i + 3
			if start+n > len(script) {
				return append(out, script[i:]...)
			}
			out = append(out, canonicalPush(script[start:start+n])...)
			i = start + n
		case op == opPushData4:
			if i+4 >= len(script) {
				return append(out, script[i:]...)
			}
			n := int(binary.LittleEndian.Uint32(script[i+1 : i+5]))
			start := i + 5
			if start+n > len(script) {
				return append(out, script[i:]...)
			}
			out = append(out, canonicalPush(script[start:start+n])...)
			i = start + n
		default:
			out = append(out, op)
			i++
		}
	}
	return out
}

func canonicalPush(data []byte) []byte {
	switch {
	case len(data) <= 75:
		out := make([]byte, 0, 1+len(data))
		out = append(out, byte(len(data)))
		return append(out, data...)
	case len(data) <= 255:
		out := []byte{opPushData1, byte(len(data))}
		return append(out, data...)
	case len(data) <= 65535:
		out := make([]byte, 3, 3+len(data))
		out[0] = opPushData2
		binary.LittleEndian.PutUint16(out[1:3], uint16(len(data)))
		return append(out, data...)
	default:
		out := make([]byte, 5, 5+len(data))
		out[0] = opPushData4
		binary.LittleEndian.PutUint32(out[1:5], uint32(len(data)))
		return append(out, data...)
	}
}

func containsKey(keys []episode.PubKey, k episode.PubKey) bool {
	for _, candidate := range keys {
		if candidate.Equal(k) {
			return true
		}
	}
	return false
}

// xonlyOf drops the sign-parity byte from a 33-byte compressed key, or
// returns the key unchanged if it is already a 32-byte x-only key.
func xonlyOf(k episode.PubKey) []byte {
	if len(k) == 33 {
		return []byte(k)[1:]
	}
	return []byte(k)
}

func matchesP2PKMerchant(script []byte, merchantKeys []episode.PubKey) bool {
	if len(script) != 35 || script[0] != 33 || script[34] != opCheckSig {
		return false
	}
	key := episode.PubKey(script[1:34])
	return containsKey(merchantKeys, key)
}

func decodeSmallInt(op byte) (int, bool) {
	if op >= op1 && op <= op1+15 {
		return int(op - opSmallIntBase), true
	}
	return 0, false
}

func parseMultisig(script []byte) (m int, keys []episode.PubKey, n int, ok bool) {
	if len(script) == 0 {
		return 0, nil, 0, false
	}
	i := 0
	m, ok = decodeSmallInt(script[i])
	if !ok {
		return 0, nil, 0, false
	}
	i++
	for i < len(script) {
		op := script[i]
		if op < 1 || op > 75 {
			break
		}
		n := int(op)
		i++
		if i+n > len(script) {
			return 0, nil, 0, false
		}
		keys = append(keys, episode.PubKey(script[i:i+n]))
		i += n
	}
	if i >= len(script) {
		return 0, nil, 0, false
	}
	n, ok = decodeSmallInt(script[i])
	if !ok {
		return 0, nil, 0, false
	}
	i++
	if i >= len(script) || script[i] != opCheckMultisig {
		return 0, nil, 0, false
	}
	i++
	if i != len(script) || n != len(keys) {
		return 0, nil, 0, false
	}
	return m, keys, n, true
}

func matchesMerchantGuardianMultisig(script []byte, merchantKeys, guardianKeys []episode.PubKey) bool {
	if len(guardianKeys) == 0 {
		return false
	}
	m, keys, n, ok := parseMultisig(script)
	if !ok || m < 1 || n < m {
		return false
	}
	hasMerchant, hasGuardian := false, false
	for _, k := range keys {
		switch {
		case containsKey(merchantKeys, k):
			hasMerchant = true
		case containsKey(guardianKeys, k):
			hasGuardian = true
		default:
			return false
		}
	}
	return hasMerchant && hasGuardian
}

func matchesTaprootMerchant(script []byte, scriptVersion uint16, merchantKeys []episode.PubKey) bool {
	if scriptVersion != 1 {
		return false
	}
	body := script
	if len(body) == 34 && body[0] == op1 {
		body = body[1:]
	}
	if len(body) != 33 || body[0] != 32 {
		return false
	}
	key := body[1:]
	for _, mk := range merchantKeys {
		if bytes.Equal(xonlyOf(mk), key) {
			return true
		}
	}
	return false
}

// PaymentSummary is the result of a successful enforcePaymentPolicy call.
type PaymentSummary struct {
	CoveredValue   uint64
	MatchedOutputs int
}

// enforcePaymentPolicy normalizes and matches every output's script against
// the three allowed policies (spec §4.5 step 4), summing matching values
// with overflow-checked addition (grounded on erigon-lib's SafeAdd style).
func enforcePaymentPolicy(outputs []episode.TxOutputInfo, requiredAmount uint64, merchantKeys, guardianKeys []episode.PubKey) (PaymentSummary, error) {
	var total uint64
	matched := 0
	for _, out := range outputs {
		if out.ScriptBytes == nil {
			continue
		}
		normalized := NormalizeScript(out.ScriptBytes)
		isMatch := (out.ScriptVersion == 0 && matchesP2PKMerchant(normalized, merchantKeys)) ||
			(out.ScriptVersion == 0 && matchesMerchantGuardianMultisig(normalized, merchantKeys, guardianKeys)) ||
			matchesTaprootMerchant(normalized, out.ScriptVersion, merchantKeys)
		if !isMatch {
			continue
		}
		sum := total + out.Value
		if sum < total {
			return PaymentSummary{}, ErrValueOverflow
		}
		total = sum
		matched++
	}
	if matched == 0 {
		return PaymentSummary{}, ErrInvalidScript
	}
	if total < requiredAmount {
		return PaymentSummary{}, ErrInsufficientValue
	}
	return PaymentSummary{CoveredValue: total, MatchedOutputs: matched}, nil
}
