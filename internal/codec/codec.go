// Package codec implements the tag-wire binary format used to move Order,
// Trade, and MarketData records across the message bus.
//
// Each field is prefixed by a single tag byte: the upper five bits hold the
// field number (1-31), the lower three hold a wire-type discriminator —
// 0 = varint (7-bit groups, least-significant-group-first, continuation bit
// set on every group but the last), 1 = 8-byte little-endian float64,
// 2 = length-delimited (varint length, then raw bytes). Zero-valued scalar
// fields and empty strings are omitted on encode; decoders treat an absent
// field as its zero value. Unknown field numbers are skipped by wire type,
// so the format is forward-compatible; an unknown wire type or a
// length-delimited field that runs past the buffer end is malformed.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nullma/ttquant/internal/errs"
	"github.com/nullma/ttquant/pkg/types"
)

const (
	wireVarint = 0
	wireDouble = 1
	wireBytes  = 2
)

func tag(field int, wireType int) byte {
	return byte(field<<3 | wireType)
}

func fieldOf(t byte) int { return int(t >> 3) }
func wireOf(t byte) int  { return int(t & 0x7) }

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendString(buf []byte, field int, s string) []byte {
	if s == "" {
		return buf
	}
	buf = append(buf, tag(field, wireBytes))
	buf = appendVarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendDouble(buf []byte, field int, v float64) []byte {
	if v == 0 {
		return buf
	}
	buf = append(buf, tag(field, wireDouble))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func appendVarintField(buf []byte, field int, v int64) []byte {
	if v == 0 {
		return buf
	}
	buf = append(buf, tag(field, wireVarint))
	return appendVarint(buf, uint64(v))
}

func appendBool(buf []byte, field int, v bool) []byte {
	if !v {
		return buf
	}
	buf = append(buf, tag(field, wireVarint))
	return appendVarint(buf, 1)
}

// readVarint reads a 7-bit-group varint starting at offset i, returning the
// decoded value and the offset of the next unread byte.
func readVarint(buf []byte, i int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("codec: truncated varint: %w", errs.ErrDecodeMalformed)
		}
		b := buf[i]
		i++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, i, nil
}

// fieldValue holds one decoded field pending dispatch to the target struct.
type fieldValue struct {
	field    int
	wireType int
	u        uint64
	f        float64
	s        string
}

// decodeFields walks the buffer and returns every recognized field, skipping
// unknown field numbers by wire type so newer producers remain readable by
// older consumers.
func decodeFields(buf []byte) ([]fieldValue, error) {
	var out []fieldValue
	i := 0
	for i < len(buf) {
		t := buf[i]
		i++
		field := fieldOf(t)
		wt := wireOf(t)

		switch wt {
		case wireVarint:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			i = next
			out = append(out, fieldValue{field: field, wireType: wt, u: v})
		case wireDouble:
			if i+8 > len(buf) {
				return nil, fmt.Errorf("codec: truncated double at field %d: %w", field, errs.ErrDecodeMalformed)
			}
			bits := binary.LittleEndian.Uint64(buf[i : i+8])
			i += 8
			out = append(out, fieldValue{field: field, wireType: wt, f: math.Float64frombits(bits)})
		case wireBytes:
			length, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			i = next
			if i+int(length) > len(buf) {
				return nil, fmt.Errorf("codec: length-delimited field %d extends past buffer: %w", field, errs.ErrDecodeMalformed)
			}
			out = append(out, fieldValue{field: field, wireType: wt, s: string(buf[i : i+int(length)])})
			i += int(length)
		default:
			return nil, fmt.Errorf("codec: unknown wire type %d on field %d: %w", wt, field, errs.ErrDecodeMalformed)
		}
	}
	return out, nil
}

// EncodeOrder serializes an Order to the tag-wire format.
func EncodeOrder(o types.Order) []byte {
	var buf []byte
	buf = appendString(buf, 1, o.ID)
	buf = appendString(buf, 2, o.Strategy)
	buf = appendString(buf, 3, o.Symbol)
	buf = appendDouble(buf, 4, o.Price)
	buf = appendVarintField(buf, 5, o.Volume)
	buf = appendString(buf, 6, string(o.Side))
	buf = appendVarintField(buf, 7, o.Timestamp)
	return buf
}

// DecodeOrder parses bytes produced by EncodeOrder.
func DecodeOrder(buf []byte) (types.Order, error) {
	fields, err := decodeFields(buf)
	if err != nil {
		return types.Order{}, err
	}
	var o types.Order
	for _, fv := range fields {
		switch fv.field {
		case 1:
			o.ID = fv.s
		case 2:
			o.Strategy = fv.s
		case 3:
			o.Symbol = fv.s
		case 4:
			o.Price = fv.f
		case 5:
			o.Volume = int64(fv.u)
		case 6:
			o.Side = types.Side(fv.s)
		case 7:
			o.Timestamp = int64(fv.u)
		}
	}
	return o, nil
}

// EncodeTrade serializes a Trade to the tag-wire format.
func EncodeTrade(tr types.Trade) []byte {
	var buf []byte
	buf = appendString(buf, 1, tr.TradeID)
	buf = appendString(buf, 2, tr.OrderID)
	buf = appendString(buf, 3, tr.StrategyID)
	buf = appendString(buf, 4, tr.Symbol)
	buf = appendString(buf, 5, string(tr.Side))
	buf = appendDouble(buf, 6, tr.FilledPrice)
	buf = appendVarintField(buf, 7, tr.FilledVolume)
	buf = appendVarintField(buf, 8, tr.TradeTime)
	buf = appendString(buf, 9, string(tr.Status))
	buf = appendVarintField(buf, 10, tr.ErrorCode)
	buf = appendString(buf, 11, tr.ErrorMessage)
	buf = appendBool(buf, 12, tr.IsRetryable)
	buf = appendDouble(buf, 13, tr.Commission)
	return buf
}

// DecodeTrade parses bytes produced by EncodeTrade.
func DecodeTrade(buf []byte) (types.Trade, error) {
	fields, err := decodeFields(buf)
	if err != nil {
		return types.Trade{}, err
	}
	var tr types.Trade
	for _, fv := range fields {
		switch fv.field {
		case 1:
			tr.TradeID = fv.s
		case 2:
			tr.OrderID = fv.s
		case 3:
			tr.StrategyID = fv.s
		case 4:
			tr.Symbol = fv.s
		case 5:
			tr.Side = types.Side(fv.s)
		case 6:
			tr.FilledPrice = fv.f
		case 7:
			tr.FilledVolume = int64(fv.u)
		case 8:
			tr.TradeTime = int64(fv.u)
		case 9:
			tr.Status = types.TradeStatus(fv.s)
		case 10:
			tr.ErrorCode = int64(fv.u)
		case 11:
			tr.ErrorMessage = fv.s
		case 12:
			tr.IsRetryable = fv.u != 0
		case 13:
			tr.Commission = fv.f
		}
	}
	return tr, nil
}

// EncodeMarketData serializes a MarketData tick to the tag-wire format.
func EncodeMarketData(md types.MarketData) []byte {
	var buf []byte
	buf = appendString(buf, 1, md.Symbol)
	buf = appendDouble(buf, 2, md.LastPrice)
	buf = appendDouble(buf, 3, md.Volume)
	buf = appendVarintField(buf, 4, md.ExchangeTime)
	buf = appendVarintField(buf, 5, md.LocalTime)
	buf = appendString(buf, 6, md.Exchange)
	return buf
}

// DecodeMarketData parses bytes produced by EncodeMarketData.
func DecodeMarketData(buf []byte) (types.MarketData, error) {
	fields, err := decodeFields(buf)
	if err != nil {
		return types.MarketData{}, err
	}
	var md types.MarketData
	for _, fv := range fields {
		switch fv.field {
		case 1:
			md.Symbol = fv.s
		case 2:
			md.LastPrice = fv.f
		case 3:
			md.Volume = fv.f
		case 4:
			md.ExchangeTime = int64(fv.u)
		case 5:
			md.LocalTime = int64(fv.u)
		case 6:
			md.Exchange = fv.s
		}
	}
	return md, nil
}
