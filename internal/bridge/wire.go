package bridge

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/redistribute"
	"github.com/stagecast/stagecast/internal/step"
	"github.com/stagecast/stagecast/internal/variable"
)

// opCode names one broker operation on the wire.
type opCode string

const (
	opOpenWriter   opCode = "open_writer"
	opCompleteStep opCode = "complete_step"
	opCloseWriter  opCode = "close_writer"
	opOpenReader   opCode = "open_reader"
	opAwait        opCode = "await"
	opRead         opCode = "read"
	opRetire       opCode = "retire"
	opCloseReader  opCode = "close_reader"
)

type wireSelection struct {
	Start []int `json:"start"`
	Count []int `json:"count"`
}

func toWireSelection(sel array.Selection) wireSelection {
	return wireSelection{Start: sel.Start, Count: sel.Count}
}

func (w wireSelection) selection() (array.Selection, error) {
	return array.NewSelection(w.Start, w.Count)
}

// wireBlock is one contributed region: a payload on the way in, a
// clipped fragment on the way back from a read.
type wireBlock struct {
	Var        variable.Def  `json:"var"`
	Sel        wireSelection `json:"sel"`
	Data       []byte        `json:"data"`
	Compressed bool          `json:"compressed,omitempty"`
}

// request is the client-to-hub frame. One envelope serves every
// operation; unused fields stay empty on the wire.
type request struct {
	ID     uint64 `json:"id"`
	Op     opCode `json:"op"`
	Stream string `json:"stream"`

	Size      int            `json:"size,omitempty"`
	Rank      int            `json:"rank,omitempty"`
	Seq       uint64         `json:"seq,omitempty"`
	Reader    string         `json:"reader,omitempty"`
	Mode      int            `json:"mode,omitempty"`
	After     int64          `json:"after,omitempty"`
	TimeoutMS int64          `json:"timeout_ms,omitempty"`
	Name      string         `json:"name,omitempty"`
	Sel       *wireSelection `json:"sel,omitempty"`
	Payloads  []wireBlock    `json:"payloads,omitempty"`
}

// response is the hub-to-client frame, matched to its request by ID.
type response struct {
	ID      uint64 `json:"id"`
	ErrKind string `json:"err_kind,omitempty"`
	Error   string `json:"error,omitempty"`

	Status int            `json:"status,omitempty"`
	Seq    uint64         `json:"seq,omitempty"`
	Vars   []variable.Def `json:"vars,omitempty"`
	Blocks []wireBlock    `json:"blocks,omitempty"`
}

// Shared zstd codecs. EncodeAll and DecodeAll are safe for concurrent
// use on a single instance.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// pack compresses block data above the threshold. A threshold of 0
// disables compression.
func pack(data []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(data) < threshold {
		return data, false
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), true
}

func unpack(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: corrupt compressed block: %w", err)
	}
	return out, nil
}

// Sentinel errors cross the wire as kind strings so errors.Is keeps
// working on the client side.
var errKinds = map[string]error{
	"invalid_state":     step.ErrInvalidState,
	"closed":            step.ErrClosed,
	"unknown_step":      step.ErrUnknownStep,
	"not_sealed":        step.ErrStepNotSealed,
	"writer_size":       step.ErrWriterGroupSize,
	"reader_size":       step.ErrReaderGroupSize,
	"duplicate_contrib": step.ErrDuplicateContrib,
	"unavailable":       step.ErrStreamUnavailable,
	"unknown_variable":  variable.ErrUnknownVariable,
	"invalid_selection": array.ErrInvalidSelection,
	"short_buffer":      redistribute.ErrShortBuffer,
}

func errorKind(err error) string {
	for kind, sentinel := range errKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

func wireError(kind, msg string) error {
	if sentinel, ok := errKinds[kind]; ok {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return errors.New(msg)
}

func (r *response) err() error {
	if r.Error == "" && r.ErrKind == "" {
		return nil
	}
	return wireError(r.ErrKind, r.Error)
}

func failure(id uint64, err error) response {
	return response{ID: id, ErrKind: errorKind(err), Error: err.Error()}
}
