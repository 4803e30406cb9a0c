package encoding

import (
	"bytes"
)

// Serializable is a value with an independently versioned binary layout. The version is
// written ahead of the body by Marshal and handed back to Deserialize by Unmarshal, so an
// implementation only ever sees layouts it declared.
type Serializable interface {
	Version() uint16
	Serialize(w *Writer) error
	Deserialize(r *Reader, version uint16) error
}

// MarshalTo writes the version tag followed by the body.
func MarshalTo(w *Writer, v Serializable) error {
	w.Uint16(v.Version())
	if err := w.Err(); err != nil {
		return err
	}
	if err := v.Serialize(w); err != nil {
		return err
	}
	return w.Err()
}

// UnmarshalFrom reads a version tag and lets v decode the body for that version.
func UnmarshalFrom(r *Reader, v Serializable) error {
	version := r.Uint16()
	if err := r.Err(); err != nil {
		return err
	}
	if err := v.Deserialize(r, version); err != nil {
		return err
	}
	return r.Err()
}

// Marshal encodes v into a standalone byte slice using identity object references.
func Marshal(v Serializable) ([]byte, error) {
	return MarshalWith(v, nil)
}

// MarshalWith encodes v translating object references through refs.
func MarshalWith(v Serializable, refs RefEncoder) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf, refs)
	if err := MarshalTo(w, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v using identity object references.
func Unmarshal(data []byte, v Serializable) error {
	return UnmarshalWith(data, v, nil)
}

// UnmarshalWith decodes data into v resolving object references through refs. Trailing
// bytes after the body are reported as ErrTrailingData.
func UnmarshalWith(data []byte, v Serializable, refs RefDecoder) error {
	rd := bytes.NewReader(data)
	r := NewReader(rd, refs)
	if err := UnmarshalFrom(r, v); err != nil {
		return err
	}
	if rd.Len() != 0 {
		return ErrTrailingData
	}
	return nil
}
