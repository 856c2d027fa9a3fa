package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
	"unicode"

	"github.com/examfit/corpus/engine/domain"
)

// Kind selects what a source yields.
type Kind string

const (
	KindRecords   Kind = "records"
	KindQuestions Kind = "questions"
)

// File reads items a scraper job dropped on disk. The file holds either a
// JSON array or a stream of JSON objects. A missing file is an empty fetch.
type File struct {
	name string
	path string
	kind Kind
	now  func() time.Time
}

// NewFile returns a file source. An empty kind means KindRecords.
func NewFile(name, path string, kind Kind) *File {
	if kind == "" {
		kind = KindRecords
	}
	return &File{name: name, path: path, kind: kind, now: time.Now}
}

func (f *File) Name() string { return f.name }

func (f *File) Fetch(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Payload{}, nil
	}
	if err != nil {
		return Payload{}, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()

	switch f.kind {
	case KindQuestions:
		qs, err := decodeItems[domain.Question](fh)
		if err != nil {
			return Payload{}, fmt.Errorf("decode %s: %w", f.path, err)
		}
		return Payload{Questions: qs}, nil
	case KindRecords:
		recs, err := decodeItems[domain.Record](fh)
		if err != nil {
			return Payload{}, fmt.Errorf("decode %s: %w", f.path, err)
		}
		now := f.now()
		for i := range recs {
			recs[i] = complete(recs[i], f.name, now)
		}
		return Payload{Records: recs}, nil
	default:
		return Payload{}, fmt.Errorf("unsupported kind %q", f.kind)
	}
}

func decodeItems[T any](r io.Reader) ([]T, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(br)
	if first == '[' {
		var out []T
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out []T
	for {
		var v T
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", len(out)+1, err)
		}
		out = append(out, v)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
