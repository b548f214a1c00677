package cnf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// maxVar is the highest variable index accepted in a DIMACS stream.
const maxVar = 1<<31 - 1

// A ParseError is returned when a DIMACS stream is malformed.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Reason)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// reader is a byte reader keeping track of the current line.
type reader struct {
	r    *bufio.Reader
	line int
}

func (rd *reader) readByte() (byte, error) {
	b, err := rd.r.ReadByte()
	if err == nil && b == '\n' {
		rd.line++
	}
	return b, err
}

func (rd *reader) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: rd.line, Reason: fmt.Sprintf(format, args...)}
}

// skipLine ignores everything up to, and including, the next newline.
func (rd *reader) skipLine() error {
	line, err := rd.r.ReadString('\n')
	if err == nil || len(line) > 0 && line[len(line)-1] == '\n' {
		rd.line++
	}
	return err
}

// readInt reads an int from rd.
// 'b' is the last read byte. It can be a '-' or a digit.
// On return, 'b' is the byte following the int, which was consumed.
// Can return io.EOF along with a valid int when the stream ends right after it.
func (rd *reader) readInt(b *byte) (res int, err error) {
	neg := 1
	if *b == '-' {
		neg = -1
		if *b, err = rd.readByte(); err != nil {
			return 0, rd.errorf("unexpected end of input after '-'")
		}
	}
	if *b < '0' || *b > '9' {
		return 0, rd.errorf("cannot read int: %q is not a digit", *b)
	}
	for err == nil && *b >= '0' && *b <= '9' {
		res = 10*res + int(*b-'0')
		if res > maxVar {
			return 0, rd.errorf("literal out of range")
		}
		*b, err = rd.readByte()
	}
	if err == nil && !isSpace(*b) {
		return 0, rd.errorf("cannot read int: %q is not a digit", *b)
	}
	if err != nil && err != io.EOF {
		return 0, errors.Wrap(err, "could not read digit")
	}
	return neg * res, err
}

func (rd *reader) parseHeader() (nbVars, nbClauses int, err error) {
	line, err := rd.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, 0, errors.Wrap(err, "cannot read header")
	}
	defer func() { rd.line++ }()
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "cnf" {
		return 0, 0, rd.errorf("invalid syntax %q in header", "p"+line)
	}
	nbVars, err = strconv.Atoi(fields[1])
	if err != nil || nbVars < 0 {
		return 0, 0, rd.errorf("nbvars not a valid int: %q", fields[1])
	}
	nbClauses, err = strconv.Atoi(fields[2])
	if err != nil || nbClauses < 0 {
		return 0, 0, rd.errorf("nbClauses not a valid int: %q", fields[2])
	}
	return nbVars, nbClauses, nil
}

// Parse parses a DIMACS CNF stream and returns the corresponding Problem.
// When strict is true, the "p cnf" header is mandatory and must match the content of the stream.
// Otherwise, the header is optional and the number of variables grows with the literals found.
func Parse(f io.Reader, strict bool) (*Problem, error) {
	rd := &reader{r: bufio.NewReader(f), line: 1}
	var (
		pb        Problem
		header    bool
		nbClauses int
		lits      []int
	)
	b, err := rd.readByte()
	for err == nil {
		switch {
		case isSpace(b):
		case b == 'c': // Ignore comment
			if err = rd.skipLine(); err != nil {
				continue
			}
		case b == '%': // End marker found in some benchmarks
			err = io.EOF
			continue
		case b == 'p':
			if header {
				return nil, rd.errorf("duplicate header")
			}
			if len(pb.Clauses) != 0 || len(lits) != 0 {
				return nil, rd.errorf("header found after clauses")
			}
			var perr error
			if pb.NbVars, nbClauses, perr = rd.parseHeader(); perr != nil {
				return nil, perr
			}
			header = true
			pb.Clauses = make([][]int, 0, nbClauses)
		default:
			if strict && !header {
				return nil, rd.errorf("missing header")
			}
			val, rerr := rd.readInt(&b)
			if rerr != nil && rerr != io.EOF {
				return nil, rerr
			}
			if val == 0 {
				pb.Clauses = append(pb.Clauses, lits)
				lits = nil
			} else {
				if v := abs(val); v > pb.NbVars {
					if strict {
						return nil, rd.errorf("invalid literal %d for problem with %d vars only", val, pb.NbVars)
					}
					pb.NbVars = v
				}
				lits = append(lits, val)
			}
			if rerr == io.EOF {
				err = io.EOF
				continue
			}
		}
		b, err = rd.readByte()
	}
	if err != io.EOF {
		return nil, errors.Wrap(err, "could not read problem")
	}
	if len(lits) != 0 {
		return nil, rd.errorf("unfinished clause while EOF found")
	}
	if strict {
		if !header {
			return nil, rd.errorf("missing header")
		}
		if len(pb.Clauses) != nbClauses {
			return nil, rd.errorf("header mismatch: %d clauses declared, %d found", nbClauses, len(pb.Clauses))
		}
	}
	return &pb, nil
}

// gzipMagic are the first bytes of any gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewReader returns a reader decompressing r on the fly if r is a gzip stream,
// or reading r as is otherwise.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "could not read input")
	}
	if !bytes.Equal(magic, gzipMagic) {
		return &readCloser{Reader: br}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "could not read gzip stream")
	}
	return &readCloser{Reader: zr, closers: []io.Closer{zr}}, nil
}

// Open opens the file at path for reading, transparently decompressing gzip content.
// The caller owns the returned handle and must close it.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %q", path)
	}
	rc, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "could not open %q", path)
	}
	rc.(*readCloser).closers = append([]io.Closer{f}, rc.(*readCloser).closers...)
	return rc, nil
}

// ParseFile opens, parses and closes the DIMACS file at path.
func ParseFile(path string, strict bool) (pb *Problem, err error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "could not close %q", path)
		}
	}()
	if pb, err = Parse(rc, strict); err != nil {
		return nil, errors.Wrapf(err, "could not parse DIMACS file %q", path)
	}
	return pb, nil
}
