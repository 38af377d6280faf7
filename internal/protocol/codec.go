package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// readFrame reads one length-prefixed frame. A clean end of stream before
// the header returns io.EOF.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := binary.LittleEndian.Uint32(header[:])
	if int64(n) > int64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLong, n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

func writeFrame(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

// EncodeRequest serializes a request body.
func EncodeRequest(args [][]byte) []byte {
	size := 4
	for _, a := range args {
		size += 4 + len(a)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(args)))
	for _, a := range args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	return buf
}

// DecodeRequest parses a request body. Arguments alias data.
func DecodeRequest(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing argument count", ErrMalformedRequest)
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	// Every argument needs at least its length prefix.
	if uint64(n)*4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d arguments in %d bytes", ErrMalformedRequest, n, len(data))
	}

	args := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated argument %d", ErrMalformedRequest, i)
		}
		l := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(l) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: argument %d overruns body", ErrMalformedRequest, i)
		}
		args = append(args, data[:l:l])
		data = data[l:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedRequest, len(data))
	}
	return args, nil
}

// WriteRequest frames and writes a request.
func WriteRequest(w io.Writer, args [][]byte, maxSize int) error {
	body := EncodeRequest(args)
	if len(body) > maxSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLong, len(body), maxSize)
	}
	return writeFrame(w, body)
}

// ReadRequest reads and parses one request.
func ReadRequest(r io.Reader, maxSize int) ([][]byte, error) {
	body, err := readFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(body)
}

// AppendValue appends the encoding of v to buf.
func AppendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Tag))
	switch v.Tag {
	case TagErr:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Code))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case TagStr:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case TagInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case TagDbl:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Dbl))
	case TagArr:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			buf = AppendValue(buf, e)
		}
	}
	return buf
}

// DecodeValue parses one value from data and returns the bytes consumed.
func DecodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("%w: empty value", ErrMalformedResponse)
	}
	tag := Tag(data[0])
	rest := data[1:]

	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%w: tag %d needs %d bytes, have %d", ErrMalformedResponse, tag, n, len(rest))
		}
		return nil
	}

	switch tag {
	case TagNil:
		return Nil(), 1, nil
	case TagErr:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		code := int32(binary.LittleEndian.Uint32(rest))
		l := int(binary.LittleEndian.Uint32(rest[4:]))
		if err := need(8 + l); err != nil {
			return Value{}, 0, err
		}
		return Err(code, string(rest[8:8+l])), 1 + 8 + l, nil
	case TagStr:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		l := int(binary.LittleEndian.Uint32(rest))
		if err := need(4 + l); err != nil {
			return Value{}, 0, err
		}
		return Str(string(rest[4 : 4+l])), 1 + 4 + l, nil
	case TagInt:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		return Int(int64(binary.LittleEndian.Uint64(rest))), 1 + 8, nil
	case TagDbl:
		if err := need(8); err != nil {
			return Value{}, 0, err
		}
		return Dbl(math.Float64frombits(binary.LittleEndian.Uint64(rest))), 1 + 8, nil
	case TagArr:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		n := binary.LittleEndian.Uint32(rest)
		// Every element needs at least its tag byte.
		if uint64(n) > uint64(len(rest)-4) {
			return Value{}, 0, fmt.Errorf("%w: array of %d in %d bytes", ErrMalformedResponse, n, len(rest)-4)
		}
		used := 1 + 4
		arr := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			e, m, err := DecodeValue(data[used:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, e)
			used += m
		}
		return Arr(arr...), used, nil
	default:
		return Value{}, 0, fmt.Errorf("%w: unknown tag %d", ErrMalformedResponse, tag)
	}
}

// WriteResponse frames and writes v. A value whose encoding exceeds maxSize
// is replaced by an ERR value with ErrCodeTooBig.
func WriteResponse(w io.Writer, v Value, maxSize int) error {
	body := AppendValue(nil, v)
	if len(body) > maxSize {
		body = AppendValue(nil, Err(ErrCodeTooBig, "response is too big"))
	}
	return writeFrame(w, body)
}

// ReadResponse reads and parses one response.
func ReadResponse(r io.Reader, maxSize int) (Value, error) {
	body, err := readFrame(r, maxSize)
	if err != nil {
		return Value{}, err
	}
	v, n, err := DecodeValue(body)
	if err != nil {
		return Value{}, err
	}
	if n != len(body) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedResponse, len(body)-n)
	}
	return v, nil
}
