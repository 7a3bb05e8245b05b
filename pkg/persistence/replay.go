package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReplayResult summarizes a journal scan.
type ReplayResult struct {
	// Records is the number of records passed to the callback.
	Records int
	// Valid is the length of the intact prefix of the file.
	Valid int64
	// Tail is the framing error that stopped the scan, or nil if the file
	// ended on a frame boundary.
	Tail error
}

// Replay reads the journal at path and calls fn for each intact record. A
// missing file is an empty journal. A torn or corrupt frame ends the scan
// and is reported in ReplayResult.Tail rather than as an error; errors from
// decoding a well-framed record or from fn abort the replay.
func Replay(path string, fn func(Record) error) (ReplayResult, error) {
	var res ReplayResult

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		frame, n, err := ReadFrame(r)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			res.Tail = err
			return res, nil
		}

		rec, err := DecodeRecord(frame)
		if err != nil {
			return res, fmt.Errorf("journal offset %d: %w", res.Valid, err)
		}
		if err := fn(rec); err != nil {
			return res, fmt.Errorf("journal offset %d: apply %s: %w", res.Valid, rec.Op, err)
		}
		res.Records++
		res.Valid += int64(n)
	}
}
