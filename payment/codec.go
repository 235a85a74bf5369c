package payment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kasperience/kdapp-sub000/episode"
)

// ErrTruncated is returned by DecodeCommand when raw ends before a field
// it declares is fully read.
var ErrTruncated = errors.New("payment: truncated command bytes")

// EncodeCommand serializes a Command into the bytes carried inside a
// codec.Envelope's CommandBytes — the engine's Decoder[Command] is
// DecodeCommand. Layout: 1-byte kind tag, then kind-specific
// big-endian/length-prefixed fields, matching codec.Envelope's own
// convention rather than introducing a second wire style.
func EncodeCommand(cmd Command) []byte {
	buf := []byte{byte(cmd.Kind)}
	switch cmd.Kind {
	case KindCreateInvoice:
		c := cmd.CreateInvoice
		buf = append(buf, be8(c.InvoiceID)...)
		buf = append(buf, be8(c.Amount)...)
		buf = putString(buf, c.Memo)
		buf = putKeyList(buf, c.GuardianKeys)
	case KindMarkPaid:
		c := cmd.MarkPaid
		buf = append(buf, be8(c.InvoiceID)...)
		buf = putBytes(buf, c.Payer)
	case KindAckReceipt:
		buf = append(buf, be8(cmd.AckReceipt.InvoiceID)...)
	case KindCancelInvoice:
		buf = append(buf, be8(cmd.CancelInvoice.InvoiceID)...)
	case KindCreateSubscription:
		c := cmd.CreateSubscription
		buf = append(buf, be8(c.SubscriptionID)...)
		buf = putBytes(buf, c.Customer)
		buf = append(buf, be8(c.Amount)...)
		buf = append(buf, be8(c.Interval)...)
	case KindProcessSubscription:
		buf = append(buf, be8(cmd.ProcessSubscription.SubscriptionID)...)
	case KindCancelSubscription:
		buf = append(buf, be8(cmd.CancelSubscription.SubscriptionID)...)
	}
	return buf
}

// DecodeCommand is the engine.Decoder[Command] for this episode.
func DecodeCommand(raw []byte) (Command, error) {
	if len(raw) < 1 {
		return Command{}, ErrTruncated
	}
	kind := CommandKind(raw[0])
	rest := raw[1:]
	switch kind {
	case KindCreateInvoice:
		id, rest, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		amount, rest, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		memo, rest, err := takeString(rest)
		if err != nil {
			return Command{}, err
		}
		keys, _, err := takeKeyList(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, CreateInvoice: &CreateInvoiceCmd{InvoiceID: id, Amount: amount, Memo: memo, GuardianKeys: keys}}, nil

	case KindMarkPaid:
		id, rest, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		payer, _, err := takeBytes(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, MarkPaid: &MarkPaidCmd{InvoiceID: id, Payer: episode.PubKey(payer)}}, nil

	case KindAckReceipt:
		id, _, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, AckReceipt: &AckReceiptCmd{InvoiceID: id}}, nil

	case KindCancelInvoice:
		id, _, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, CancelInvoice: &CancelInvoiceCmd{InvoiceID: id}}, nil

	case KindCreateSubscription:
		id, rest, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		customer, rest, err := takeBytes(rest)
		if err != nil {
			return Command{}, err
		}
		amount, rest, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		interval, _, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, CreateSubscription: &CreateSubscriptionCmd{
			SubscriptionID: id, Customer: episode.PubKey(customer), Amount: amount, Interval: interval,
		}}, nil

	case KindProcessSubscription:
		id, _, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, ProcessSubscription: &ProcessSubscriptionCmd{SubscriptionID: id}}, nil

	case KindCancelSubscription:
		id, _, err := takeU64(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, CancelSubscription: &CancelSubscriptionCmd{SubscriptionID: id}}, nil

	default:
		return Command{}, fmt.Errorf("payment: unknown command kind %d", kind)
	}
}

func be8(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func putString(buf []byte, s string) []byte { return putBytes(buf, []byte(s)) }

func putKeyList(buf []byte, keys []episode.PubKey) []byte {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(keys)))
	buf = append(buf, countBuf[:]...)
	for _, k := range keys {
		buf = putBytes(buf, k)
	}
	return buf
}

func takeBytes(raw []byte) (data, rest []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint32(len(raw)) < n {
		return nil, nil, ErrTruncated
	}
	return raw[:n], raw[n:], nil
}

func takeString(raw []byte) (string, []byte, error) {
	b, rest, err := takeBytes(raw)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}

func takeU64(raw []byte) (uint64, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, ErrTruncated
	}
	return binary.BigEndian.Uint64(raw[:8]), raw[8:], nil
}

func takeKeyList(raw []byte) ([]episode.PubKey, []byte, error) {
	if len(raw) < 4 {
		return nil, nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	keys := make([]episode.PubKey, 0, n)
	for i := uint32(0); i < n; i++ {
		var b []byte
		var err error
		b, raw, err = takeBytes(raw)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, episode.PubKey(b))
	}
	return keys, raw, nil
}
