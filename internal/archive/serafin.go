package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Serafin files are Fortran unformatted sequential files: every record is
// framed by a 4-byte length marker on each side. Frames after the header
// have a fixed size, which is what makes random access to any
// (parameter, timestep) pair possible with a single positioned read.

const (
	serafinTitleLen    = 80
	serafinTitleLenOld = 72 // written by some older preprocessors
	serafinVarNameLen  = 32 // 16 name chars + 16 unit chars
)

// SerafinReader reads Serafin/SELAFIN result files.
type SerafinReader struct {
	path   string
	ra     io.ReaderAt
	size   int64
	order  binary.ByteOrder
	closer io.Closer // nil for in-memory archives

	md        *Metadata
	npoin     int
	nbv       int
	frameBase int64
	frameSize int64
}

// OpenSerafin opens a Serafin result file for random access. Compressed
// archives are decompressed fully into memory, since zstd streams cannot be
// seeked.
func OpenSerafin(path string, compressed bool) (*SerafinReader, error) {
	s := &SerafinReader{path: path}

	if compressed {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &ReadError{Path: path, Timestep: -1, Err: err}
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, &ReadError{Path: path, Timestep: -1, Err: fmt.Errorf("create zstd decoder: %w", err)}
		}
		defer dec.Close()
		data, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, &ReadError{Path: path, Timestep: -1, Err: fmt.Errorf("zstd decompress: %w", err)}
		}
		s.ra = bytes.NewReader(data)
		s.size = int64(len(data))
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, &ReadError{Path: path, Timestep: -1, Err: err}
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, &ReadError{Path: path, Timestep: -1, Err: err}
		}
		s.ra = f
		s.size = info.Size()
		s.closer = f
	}

	if err := s.decodeHeader(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Metadata returns the archive snapshot built at open time.
func (s *SerafinReader) Metadata() *Metadata { return s.md }

// Close releases the underlying file handle, if any.
func (s *SerafinReader) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// ReadTimestepVector returns the raw spatial vector for catalog parameter
// paramIndex at the 0-based timestep step.
func (s *SerafinReader) ReadTimestepVector(paramIndex, step int) ([]float64, error) {
	if paramIndex < 0 || paramIndex >= s.nbv {
		return nil, &ReadError{Path: s.path, Timestep: step,
			Err: fmt.Errorf("parameter index %d out of range [0,%d)", paramIndex, s.nbv)}
	}
	name := s.md.Params[paramIndex].Name
	if step < 0 || step >= len(s.md.Times) {
		return nil, &ReadError{Path: s.path, Timestep: step, Parameter: name,
			Err: fmt.Errorf("timestep out of range [0,%d)", len(s.md.Times))}
	}

	// Skip the time record (12 bytes) and the leading marker of the
	// parameter record.
	off := s.frameBase + int64(step)*s.frameSize + 12 +
		int64(paramIndex)*(8+4*int64(s.npoin)) + 4

	buf := make([]byte, 4*s.npoin)
	if _, err := s.ra.ReadAt(buf, off); err != nil {
		return nil, &ReadError{Path: s.path, Timestep: step, Parameter: name,
			Err: fmt.Errorf("truncated frame: %w", err)}
	}
	out := make([]float64, s.npoin)
	for i := range out {
		out[i] = float64(math.Float32frombits(s.order.Uint32(buf[4*i:])))
	}
	return out, nil
}

// decodeHeader parses everything up to the first frame and enumerates the
// frame timestamps.
func (s *SerafinReader) decodeHeader() error {
	fail := func(err error) error {
		return &ReadError{Path: s.path, Timestep: -1, Err: err}
	}

	order, err := s.detectByteOrder()
	if err != nil {
		return fail(err)
	}
	s.order = order

	var off int64

	title, off, err := s.readRecord(off)
	if err != nil {
		return fail(fmt.Errorf("title record: %w", err))
	}

	counts, off, err := s.readRecord(off)
	if err != nil || len(counts) < 8 {
		return fail(fmt.Errorf("variable count record: %w", err))
	}
	s.nbv = int(int32(order.Uint32(counts)))
	if s.nbv <= 0 {
		return fail(fmt.Errorf("archive declares %d variables", s.nbv))
	}

	params := make([]Param, s.nbv)
	for i := 0; i < s.nbv; i++ {
		var rec []byte
		rec, off, err = s.readRecord(off)
		if err != nil || len(rec) < serafinVarNameLen/2 {
			return fail(fmt.Errorf("variable name record %d: %w", i, err))
		}
		params[i] = Param{Name: strings.TrimSpace(string(rec[:16])), Index: i}
	}

	iparam, off, err := s.readRecord(off)
	if err != nil || len(iparam) < 40 {
		return fail(fmt.Errorf("iparam record: %w", err))
	}
	if int32(order.Uint32(iparam[36:])) == 1 {
		// Reference date record follows.
		if _, off, err = s.readRecord(off); err != nil {
			return fail(fmt.Errorf("date record: %w", err))
		}
	}

	dims, off, err := s.readRecord(off)
	if err != nil || len(dims) < 16 {
		return fail(fmt.Errorf("mesh dimension record: %w", err))
	}
	nelem := int(int32(order.Uint32(dims)))
	s.npoin = int(int32(order.Uint32(dims[4:])))
	ndp := int(int32(order.Uint32(dims[8:])))
	if s.npoin <= 0 || nelem < 0 || ndp <= 0 {
		return fail(fmt.Errorf("bad mesh dimensions nelem=%d npoin=%d ndp=%d", nelem, s.npoin, ndp))
	}

	// Connectivity and boundary numbering are mesh topology; skip both.
	if off, err = s.skipRecord(off, 4*nelem*ndp); err != nil {
		return fail(fmt.Errorf("connectivity record: %w", err))
	}
	if off, err = s.skipRecord(off, 4*s.npoin); err != nil {
		return fail(fmt.Errorf("boundary record: %w", err))
	}

	x, off, err := s.readFloatRecord(off)
	if err != nil {
		return fail(fmt.Errorf("x coordinate record: %w", err))
	}
	y, off, err := s.readFloatRecord(off)
	if err != nil {
		return fail(fmt.Errorf("y coordinate record: %w", err))
	}

	s.frameBase = off
	s.frameSize = 12 + int64(s.nbv)*(8+4*int64(s.npoin))
	nframes := 0
	if s.size > s.frameBase {
		nframes = int((s.size - s.frameBase) / s.frameSize)
	}

	times := make([]float64, nframes)
	tbuf := make([]byte, 4)
	for f := 0; f < nframes; f++ {
		if _, err := s.ra.ReadAt(tbuf, s.frameBase+int64(f)*s.frameSize+4); err != nil {
			return fail(fmt.Errorf("time record of frame %d: %w", f, err))
		}
		times[f] = float64(math.Float32frombits(order.Uint32(tbuf)))
	}

	s.md = &Metadata{
		Title:  strings.TrimSpace(string(title)),
		X:      x,
		Y:      y,
		Z:      make([]float64, s.npoin),
		Times:  times,
		Params: params,
	}

	// 2D results carry no node elevation; take it from the bed level
	// variable when one is present.
	if nframes > 0 {
		for _, p := range params {
			if strings.Contains(strings.ToLower(p.Name), "bottom") {
				z, err := s.ReadTimestepVector(p.Index, 0)
				if err != nil {
					return err
				}
				s.md.Z = z
				break
			}
		}
	}
	return nil
}

// detectByteOrder infers endianness from the title record marker, which
// must decode to a known title length in exactly one byte order.
func (s *SerafinReader) detectByteOrder() (binary.ByteOrder, error) {
	head := make([]byte, 4)
	if _, err := s.ra.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("read leading marker: %w", err)
	}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		n := order.Uint32(head)
		if n == serafinTitleLen || n == serafinTitleLenOld {
			return order, nil
		}
	}
	return nil, fmt.Errorf("not a serafin file (leading marker %x)", head)
}

// readRecord reads one marker-framed record starting at off and returns its
// payload and the offset just past the trailing marker.
func (s *SerafinReader) readRecord(off int64) ([]byte, int64, error) {
	marker := make([]byte, 4)
	if _, err := s.ra.ReadAt(marker, off); err != nil {
		return nil, 0, err
	}
	n := int64(int32(s.order.Uint32(marker)))
	if n < 0 || off+8+n > s.size {
		return nil, 0, fmt.Errorf("record at %d claims %d bytes past end of file", off, n)
	}
	payload := make([]byte, n)
	if _, err := s.ra.ReadAt(payload, off+4); err != nil {
		return nil, 0, err
	}
	if _, err := s.ra.ReadAt(marker, off+4+n); err != nil {
		return nil, 0, err
	}
	if int64(int32(s.order.Uint32(marker))) != n {
		return nil, 0, fmt.Errorf("record at %d has mismatched markers", off)
	}
	return payload, off + 8 + n, nil
}

// skipRecord advances past one record without reading its payload,
// verifying the expected length.
func (s *SerafinReader) skipRecord(off int64, want int) (int64, error) {
	marker := make([]byte, 4)
	if _, err := s.ra.ReadAt(marker, off); err != nil {
		return 0, err
	}
	n := int64(int32(s.order.Uint32(marker)))
	if int(n) != want {
		return 0, fmt.Errorf("record at %d is %d bytes, expected %d", off, n, want)
	}
	if off+8+n > s.size {
		return 0, fmt.Errorf("record at %d runs past end of file", off)
	}
	return off + 8 + n, nil
}

// readFloatRecord reads a record of npoin float32 values as float64.
func (s *SerafinReader) readFloatRecord(off int64) ([]float64, int64, error) {
	payload, next, err := s.readRecord(off)
	if err != nil {
		return nil, 0, err
	}
	if len(payload) != 4*s.npoin {
		return nil, 0, fmt.Errorf("record at %d is %d bytes, expected %d", off, len(payload), 4*s.npoin)
	}
	out := make([]float64, s.npoin)
	for i := range out {
		out[i] = float64(math.Float32frombits(s.order.Uint32(payload[4*i:])))
	}
	return out, next, nil
}
