package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prefix marks a string as base64 of a compressed JSON document.
const Prefix = "gz:"

// maxInflated bounds a single decoded payload.
const maxInflated = 64 << 20

type Format int

const (
	// Gzip is used for the data field of HTTP responses.
	Gzip Format = iota
	// Deflate is used for socket frames. The server writes zlib streams; bare
	// deflate is accepted as well.
	Deflate
)

func (f Format) String() string {
	switch f {
	case Gzip:
		return "gzip"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "payload decode failed"
	}
	return fmt.Sprintf("payload decode failed (%s): %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var errNotJSON = errors.New("inflated payload is not valid JSON")

func IsCompressed(raw string) bool {
	return strings.HasPrefix(raw, Prefix)
}

// Decode turns a prefixed payload into the JSON document it wraps.
func Decode(raw string, format Format) (json.RawMessage, error) {
	if !IsCompressed(raw) {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("missing %q prefix", Prefix)}
	}
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw[len(Prefix):]))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	var inflated []byte
	switch format {
	case Gzip:
		inflated, err = gunzip(compressed)
	case Deflate:
		inflated, err = inflate(compressed)
	default:
		err = fmt.Errorf("unsupported format %d", int(format))
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	if !json.Valid(inflated) {
		return nil, &DecodeError{Format: format, Err: errNotJSON}
	}
	return json.RawMessage(inflated), nil
}

// Encode is the inverse of Decode.
func Encode(value any, format Format) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch format {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Deflate:
		w = zlib.NewWriter(&buf)
	default:
		return "", fmt.Errorf("unsupported format %d", int(format))
	}
	if _, err := w.Write(payload); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return Prefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func gunzip(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readBounded(r)
}

func inflate(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		if !errors.Is(err, zlib.ErrHeader) {
			return nil, err
		}
		raw := flate.NewReader(bytes.NewReader(compressed))
		defer raw.Close()
		return readBounded(raw)
	}
	defer r.Close()
	return readBounded(r)
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxInflated {
		return nil, fmt.Errorf("inflated payload exceeds %d bytes", maxInflated)
	}
	return data, nil
}
