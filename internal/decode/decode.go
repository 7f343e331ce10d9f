package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"torchprof/internal/cache"
	"torchprof/internal/trace"
)

var (
	// ErrCorruptArchive is returned when a .gz trace cannot be decompressed.
	ErrCorruptArchive = errors.New("corrupt trace archive")
	// ErrMalformedTrace is returned when strict, lenient and repaired decoding all fail.
	ErrMalformedTrace = errors.New("malformed trace")
)

// Stage records which decoding stage produced the document.
type Stage int

const (
	StageStrict Stage = iota
	StageLenient
	StageRepaired
)

func (s Stage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageLenient:
		return "lenient"
	case StageRepaired:
		return "repaired"
	}
	return "unknown"
}

var jsonAPI = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Options controls where repaired artifacts are written.
type Options struct {
	// TempDir receives re-encoded artifacts; empty means os.TempDir().
	TempDir string
}

// Result is the outcome of decoding one trace artifact.
type Result struct {
	Events           []trace.Event
	SchemaVersion    string
	DeviceProperties []trace.DeviceProperties
	Distributed      *trace.DistributedInfo
	Stage            Stage
	// Records counts raw records before unknown ones were dropped.
	Records int
	// ReplacementPath is set when the document needed lenient decoding or
	// repair. It names a new gzip artifact holding the re-encoded document;
	// callers must read from it instead of the original path and register it
	// for cleanup.
	ReplacementPath string
	// DecodeErr is the strict-decode error that triggered the fallback.
	DecodeErr error
}

// Decode reads path through r and turns it into events.
func Decode(r cache.Reader, path string, opts Options) (*Result, error) {
	data, err := r.Read(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".gz") {
		data, err = gunzip(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, path, err)
		}
	}

	doc, stage, strictErr := decodeDocument(data)
	if doc == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTrace, path, strictErr)
	}

	res, err := buildResult(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTrace, path, err)
	}
	res.Stage = stage

	if stage != StageStrict {
		res.DecodeErr = strictErr
		res.ReplacementPath, err = writeArtifact(doc, opts.TempDir)
		if err != nil {
			return nil, fmt.Errorf("failed to write repaired trace for %s: %w", path, err)
		}
	}
	return res, nil
}

// decodeDocument tries the strict, lenient and repaired decodings in order.
// The returned error is always the strict-decode error.
func decodeDocument(data []byte) (any, Stage, error) {
	var doc any
	strictErr := jsonAPI.Unmarshal(data, &doc)
	if strictErr == nil {
		return doc, StageStrict, nil
	}

	doc = nil
	lenient := escapeControlChars(data)
	if err := jsonAPI.Unmarshal(lenient, &doc); err == nil {
		return doc, StageLenient, strictErr
	}

	doc = nil
	if err := jsonAPI.Unmarshal(QuoteBareNA(lenient), &doc); err == nil {
		return doc, StageRepaired, strictErr
	}
	return nil, StageStrict, strictErr
}

func buildResult(doc any) (*Result, error) {
	res := &Result{}

	var records []any
	switch top := doc.(type) {
	case []any:
		records = top
	case map[string]any:
		if meta, ok := top["profilerMetadata"].(map[string]any); ok {
			res.SchemaVersion, _ = meta["DataSchemaVersion"].(string)
		}
		if props, ok := top["deviceProperties"]; ok {
			if err := remarshal(props, &res.DeviceProperties); err != nil {
				return nil, fmt.Errorf("deviceProperties: %w", err)
			}
		}
		if dist, ok := top["distributedInfo"]; ok {
			res.Distributed = &trace.DistributedInfo{}
			if err := remarshal(dist, res.Distributed); err != nil {
				return nil, fmt.Errorf("distributedInfo: %w", err)
			}
		}
		events, ok := top["traceEvents"].([]any)
		if !ok {
			return nil, errors.New("document has no traceEvents array")
		}
		records = events
	default:
		return nil, fmt.Errorf("unexpected top-level JSON value %T", doc)
	}

	res.Records = len(records)
	res.Events = make([]trace.Event, 0, len(records))
	for _, r := range records {
		raw, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if ev, ok := trace.CreateEvent(len(res.Events), raw); ok {
			res.Events = append(res.Events, ev)
		}
	}
	return res, nil
}

func remarshal(in any, out any) error {
	b, err := jsonAPI.Marshal(in)
	if err != nil {
		return err
	}
	return jsonAPI.Unmarshal(b, out)
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// writeArtifact re-encodes doc into a new gzip temp file and returns its path.
func writeArtifact(doc any, dir string) (string, error) {
	fp, err := os.CreateTemp(dir, "torchprof-*.pt.trace.json.gz")
	if err != nil {
		return "", err
	}
	name := fp.Name()

	zw := gzip.NewWriter(fp)
	stream := jsonAPI.BorrowStream(zw)
	defer jsonAPI.ReturnStream(stream)
	stream.WriteVal(doc)
	if err := stream.Flush(); err != nil {
		fp.Close()
		os.Remove(name)
		return "", err
	}
	if stream.Error != nil {
		fp.Close()
		os.Remove(name)
		return "", stream.Error
	}
	if err := zw.Close(); err != nil {
		fp.Close()
		os.Remove(name)
		return "", err
	}
	if err := fp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
