package portfolio

import (
	"encoding/binary"
	"fmt"

	"github.com/crillab/satfolio/cnf"
)

// Verdict codes on the wire. They match the exit codes of a solver.
const (
	codeUnknown       byte = 0
	codeSatisfiable   byte = 10
	codeUnsatisfiable byte = 20
)

// modelHeaderLen is the size of the variable count preceding a serialized model.
const modelHeaderLen = 4

// A PayloadError is returned when a contributor message cannot be decoded.
type PayloadError struct {
	From   int
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid payload from worker %d: %s", e.From, e.Reason)
}

// EncodeResult serializes res: one verdict code byte, then, only for a Satisfiable verdict,
// the number of variables as a big-endian uint32 followed by one byte per variable.
func EncodeResult(res WorkerResult) []byte {
	switch res.Verdict {
	case Satisfiable:
		buf := make([]byte, 1+modelHeaderLen+len(res.Model))
		buf[0] = codeSatisfiable
		binary.BigEndian.PutUint32(buf[1:1+modelHeaderLen], uint32(len(res.Model)))
		for i, v := range res.Model {
			buf[1+modelHeaderLen+i] = byte(v)
		}
		return buf
	case Unsatisfiable:
		return []byte{codeUnsatisfiable}
	default:
		return []byte{codeUnknown}
	}
}

// DecodeResult decodes the payload sent by the worker from.
// Anything not produced by EncodeResult is rejected with a PayloadError.
func DecodeResult(from int, payload []byte) (WorkerResult, error) {
	fail := func(format string, args ...interface{}) (WorkerResult, error) {
		return WorkerResult{}, &PayloadError{From: from, Reason: fmt.Sprintf(format, args...)}
	}
	if len(payload) == 0 {
		return fail("empty payload")
	}
	switch payload[0] {
	case codeUnknown, codeUnsatisfiable:
		if len(payload) != 1 {
			return fail("%d unexpected bytes after verdict code %d", len(payload)-1, payload[0])
		}
		res := WorkerResult{Worker: from, Verdict: Unknown}
		if payload[0] == codeUnsatisfiable {
			res.Verdict = Unsatisfiable
		}
		return res, nil
	case codeSatisfiable:
		if len(payload) < 1+modelHeaderLen {
			return fail("satisfiable verdict without model")
		}
		nbVars := binary.BigEndian.Uint32(payload[1 : 1+modelHeaderLen])
		values := payload[1+modelHeaderLen:]
		if uint64(len(values)) != uint64(nbVars) {
			return fail("model announces %d variables but carries %d", nbVars, len(values))
		}
		model := make(cnf.Model, nbVars)
		for i, b := range values {
			v := cnf.Value(b)
			if !v.Valid() {
				return fail("invalid value %d for variable %d", b, i+1)
			}
			model[i] = v
		}
		return WorkerResult{Worker: from, Verdict: Satisfiable, Model: model}, nil
	default:
		return fail("unknown verdict code %d", payload[0])
	}
}
