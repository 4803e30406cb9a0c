package encoding

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrTrailingData   = errors.New("trailing data after body")
	ErrValueOverflow  = errors.New("decoded value overflows target type")
	ErrUnresolvedRef  = errors.New("object reference not present in table")
	ErrNegativeLength = errors.New("negative length")
)

// RefEncoder translates a live object identity into the integer stored on the wire.
type RefEncoder interface {
	EncodeRef(id uint64) (uint64, error)
}

// RefDecoder translates a stored integer back into a live object identity.
type RefDecoder interface {
	DecodeRef(ref uint64) (uint64, error)
}

type identityRefs struct{}

func (identityRefs) EncodeRef(id uint64) (uint64, error)  { return id, nil }
func (identityRefs) DecodeRef(ref uint64) (uint64, error) { return ref, nil }

// Writer encodes primitive values with msgpack. The first error is sticky: later calls
// become no-ops and Err reports it.
type Writer struct {
	enc  *msgpack.Encoder
	refs RefEncoder
	err  error
}

func NewWriter(w io.Writer, refs RefEncoder) *Writer {
	if refs == nil {
		refs = identityRefs{}
	}
	return &Writer{enc: msgpack.NewEncoder(w), refs: refs}
}

func (w *Writer) Err() error { return w.err }

func (w *Writer) Uint64(v uint64) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeUint(v)
}

func (w *Writer) Uint32(v uint32) { w.Uint64(uint64(v)) }
func (w *Writer) Uint16(v uint16) { w.Uint64(uint64(v)) }

func (w *Writer) Int64(v int64) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeInt(v)
}

func (w *Writer) Int32(v int32) { w.Int64(int64(v)) }

func (w *Writer) Bool(v bool) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeBool(v)
}

func (w *Writer) String(v string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeString(v)
}

func (w *Writer) Bytes(v []byte) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeBytes(v)
}

// Ref writes an object reference through the writer's RefEncoder.
func (w *Writer) Ref(id uint64) {
	if w.err != nil {
		return
	}
	ref, err := w.refs.EncodeRef(id)
	if err != nil {
		w.err = err
		return
	}
	w.Uint64(ref)
}

// Reader decodes values written by Writer. Errors are sticky like Writer's.
type Reader struct {
	dec  *msgpack.Decoder
	refs RefDecoder
	err  error
}

func NewReader(r io.Reader, refs RefDecoder) *Reader {
	if refs == nil {
		refs = identityRefs{}
	}
	return &Reader{dec: msgpack.NewDecoder(r), refs: refs}
}

func (r *Reader) Err() error { return r.err }

// Fail records err unless an earlier error is already pending.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeUint64()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

func (r *Reader) Uint32() uint32 {
	v := r.Uint64()
	if v > math.MaxUint32 {
		r.Fail(fmt.Errorf("%w: %d > uint32", ErrValueOverflow, v))
		return 0
	}
	return uint32(v)
}

func (r *Reader) Uint16() uint16 {
	v := r.Uint64()
	if v > math.MaxUint16 {
		r.Fail(fmt.Errorf("%w: %d > uint16", ErrValueOverflow, v))
		return 0
	}
	return uint16(v)
}

func (r *Reader) Int64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

func (r *Reader) Int32() int32 {
	v := r.Int64()
	if v > math.MaxInt32 || v < math.MinInt32 {
		r.Fail(fmt.Errorf("%w: %d outside int32", ErrValueOverflow, v))
		return 0
	}
	return int32(v)
}

func (r *Reader) Bool() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.DecodeBool()
	if err != nil {
		r.err = err
		return false
	}
	return v
}

func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	v, err := r.dec.DecodeString()
	if err != nil {
		r.err = err
		return ""
	}
	return v
}

func (r *Reader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.dec.DecodeBytes()
	if err != nil {
		r.err = err
		return nil
	}
	return v
}

// Ref reads an object reference and resolves it through the reader's RefDecoder.
func (r *Reader) Ref() uint64 {
	ref := r.Uint64()
	if r.err != nil {
		return 0
	}
	id, err := r.refs.DecodeRef(ref)
	if err != nil {
		r.err = err
		return 0
	}
	return id
}
