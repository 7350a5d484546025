package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"claimCurve/internal/model"
)

// JsonlStorage appends trades, rejected steps and marks to JSONL files.
// An empty path discards that stream.
type JsonlStorage struct {
	tradesPath string
	errorsPath string
	marksPath  string
	mu         sync.Mutex
}

func NewJsonlStorage(tradesPath, errorsPath string) *JsonlStorage {
	return &JsonlStorage{tradesPath: tradesPath, errorsPath: errorsPath}
}

// NewJsonlMarks returns a storage that only journals marks.
func NewJsonlMarks(path string) *JsonlStorage {
	return &JsonlStorage{marksPath: path}
}

// PutTradeBatch appends a batch of trade records as JSON lines.
func (s *JsonlStorage) PutTradeBatch(trades []model.TradeRecord) error {
	values := make([]interface{}, 0, len(trades))
	for _, tr := range trades {
		values = append(values, tr)
	}
	return s.appendLines(s.tradesPath, values)
}

// PutStepErrors appends rejected scenario steps.
func (s *JsonlStorage) PutStepErrors(errs []model.StepError) error {
	values := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		values = append(values, e)
	}
	return s.appendLines(s.errorsPath, values)
}

// PutMarks appends curve marks.
func (s *JsonlStorage) PutMarks(_ context.Context, marks []model.Mark) error {
	values := make([]interface{}, 0, len(marks))
	for _, m := range marks {
		values = append(values, m)
	}
	return s.appendLines(s.marksPath, values)
}

func (s *JsonlStorage) appendLines(path string, values []interface{}) error {
	if len(values) == 0 || path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range values {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// ScanTrades streams trade records from a JSONL file. Lines that fail to decode
// are passed to onBad and skipped; a nil onBad stops at the first one.
func ScanTrades(path string, fn func(model.TradeRecord) error, onBad func(line int, err error)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record model.TradeRecord
		if err := json.Unmarshal(line, &record); err != nil {
			if onBad == nil {
				return fmt.Errorf("decode line %d: %w", n, err)
			}
			onBad(n, err)
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}
