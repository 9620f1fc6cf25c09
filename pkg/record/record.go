// Package record implements the on-disk layout of a single log entry.
//
// Every record is laid out as (little-endian):
//
//	| magic(4) | version(1) | flags(1) | tenantLen(1) | keyLen(1) | valueLen(4) |
//	| tenant | key | value | crc32(4) |
//
// The checksum covers every byte before it, payload included. Tombstones carry
// an empty value.
package record

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"sitekv/pkg/dberrors"
)

const (
	Magic   uint32 = 0x564b5453 // "STKV" on disk
	Version uint8  = 1

	HeaderSize  = 12
	TrailerSize = 4

	MaxTenantLen = 32
	MaxKeyLen    = 64

	// DefaultMaxValue is the value cap used when Limits is left zero.
	DefaultMaxValue = 64 << 10
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Flag marks a record as a SET or a DELETE. Exactly one bit is set.
type Flag uint8

const (
	FlagSet    Flag = 0x01
	FlagDelete Flag = 0x02
)

func (f Flag) valid() bool {
	return f == FlagSet || f == FlagDelete
}

func (f Flag) String() string {
	switch f {
	case FlagSet:
		return "SET"
	case FlagDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Flag(%#x)", uint8(f))
	}
}

// Limits bounds the value length accepted by Encode and Decode.
type Limits struct {
	MaxValue int
}

func (l Limits) maxValue() int {
	if l.MaxValue <= 0 {
		return DefaultMaxValue
	}
	return l.MaxValue
}

// Record is one immutable log entry.
type Record struct {
	Flags  Flag
	Tenant string
	Key    string
	Value  []byte
}

// Set builds a SET record.
func Set(tenant, key string, value []byte) Record {
	return Record{Flags: FlagSet, Tenant: tenant, Key: key, Value: value}
}

// Delete builds a tombstone.
func Delete(tenant, key string) Record {
	return Record{Flags: FlagDelete, Tenant: tenant, Key: key}
}

func (r Record) IsTombstone() bool {
	return r.Flags == FlagDelete
}

// EncodedSize is the number of bytes Encode produces for r.
func (r Record) EncodedSize() int {
	return HeaderSize + len(r.Tenant) + len(r.Key) + len(r.Value) + TrailerSize
}

// Encode serializes r. It refuses records that Decode would reject.
func Encode(r Record, lim Limits) ([]byte, error) {
	switch {
	case !r.Flags.valid():
		return nil, fmt.Errorf("%w: record flags %s", dberrors.ErrInvalidArgument, r.Flags)
	case len(r.Tenant) < 1 || len(r.Tenant) > MaxTenantLen:
		return nil, fmt.Errorf("%w: tenant length %d", dberrors.ErrInvalidArgument, len(r.Tenant))
	case len(r.Key) < 1 || len(r.Key) > MaxKeyLen:
		return nil, fmt.Errorf("%w: key length %d", dberrors.ErrInvalidArgument, len(r.Key))
	case len(r.Value) > lim.maxValue():
		return nil, fmt.Errorf("%w: value length %d exceeds %d", dberrors.ErrValueTooLarge, len(r.Value), lim.maxValue())
	case r.IsTombstone() && len(r.Value) != 0:
		return nil, fmt.Errorf("%w: tombstone carries a value", dberrors.ErrInvalidArgument)
	}

	buf := make([]byte, r.EncodedSize())
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = uint8(r.Flags)
	buf[6] = uint8(len(r.Tenant))
	buf[7] = uint8(len(r.Key))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(r.Value)))

	n := HeaderSize
	n += copy(buf[n:], r.Tenant)
	n += copy(buf[n:], r.Key)
	n += copy(buf[n:], r.Value)

	binary.LittleEndian.PutUint32(buf[n:], crc32.Checksum(buf[:n], crcTable))
	return buf, nil
}

// Size validates a header and returns the full size of the record it
// describes. header must hold at least HeaderSize bytes, otherwise
// ErrTruncated is returned.
func Size(header []byte, lim Limits) (int, error) {
	h, err := parseHeader(header, lim)
	if err != nil {
		return 0, err
	}
	return h.size(), nil
}

// Decode parses exactly one record from the start of b. Bytes past the end of
// the record are ignored.
//
// Checks run in order: header present, magic, version, flags, length limits,
// payload present, checksum.
func Decode(b []byte, lim Limits) (Record, error) {
	h, err := parseHeader(b, lim)
	if err != nil {
		return Record{}, err
	}

	size := h.size()
	if len(b) < size {
		return Record{}, fmt.Errorf("%w: have %d bytes, record needs %d", ErrTruncated, len(b), size)
	}

	body := size - TrailerSize
	stored := binary.LittleEndian.Uint32(b[body:size])
	if calculated := crc32.Checksum(b[:body], crcTable); calculated != stored {
		return Record{}, fmt.Errorf("%w: stored=%08x calculated=%08x", ErrChecksumMismatch, stored, calculated)
	}

	n := HeaderSize
	tenant := string(b[n : n+h.tenantLen])
	n += h.tenantLen
	key := string(b[n : n+h.keyLen])
	n += h.keyLen

	var value []byte
	if h.valueLen > 0 {
		value = make([]byte, h.valueLen)
		copy(value, b[n:n+h.valueLen])
	}

	return Record{Flags: h.flags, Tenant: tenant, Key: key, Value: value}, nil
}

type header struct {
	flags     Flag
	tenantLen int
	keyLen    int
	valueLen  int
}

func (h header) size() int {
	return HeaderSize + h.tenantLen + h.keyLen + h.valueLen + TrailerSize
}

func parseHeader(b []byte, lim Limits) (header, error) {
	if len(b) < HeaderSize {
		return header{}, fmt.Errorf("%w: have %d bytes, header needs %d", ErrTruncated, len(b), HeaderSize)
	}
	if m := binary.LittleEndian.Uint32(b[0:4]); m != Magic {
		return header{}, fmt.Errorf("%w: %08x", ErrBadMagic, m)
	}
	if v := b[4]; v != Version {
		return header{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	h := header{
		flags:     Flag(b[5]),
		tenantLen: int(b[6]),
		keyLen:    int(b[7]),
		valueLen:  int(binary.LittleEndian.Uint32(b[8:12])),
	}
	if err := checkShape(h.flags, h.tenantLen, h.keyLen, h.valueLen, lim); err != nil {
		return header{}, err
	}
	return h, nil
}

func checkShape(flags Flag, tenantLen, keyLen, valueLen int, lim Limits) error {
	switch {
	case !flags.valid():
		return fmt.Errorf("%w: %s", ErrBadFlags, flags)
	case tenantLen < 1 || tenantLen > MaxTenantLen:
		return fmt.Errorf("%w: tenant length %d", ErrBadLength, tenantLen)
	case keyLen < 1 || keyLen > MaxKeyLen:
		return fmt.Errorf("%w: key length %d", ErrBadLength, keyLen)
	case valueLen > lim.maxValue():
		return fmt.Errorf("%w: value length %d exceeds %d", ErrBadLength, valueLen, lim.maxValue())
	case flags == FlagDelete && valueLen != 0:
		return fmt.Errorf("%w: tombstone with value length %d", ErrBadLength, valueLen)
	}
	return nil
}
