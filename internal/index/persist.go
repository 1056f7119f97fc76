package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	cserrors "github.com/Aman-CERP/codesearch/internal/errors"
)

// The on-disk file table is an internal cache. There is no compatibility
// guarantee across versions; a file with a different magic is rejected as
// corrupt and the caller rebuilds.
var indexMagic = [4]byte{'C', 'S', 'I', '1'}

const (
	maxStringLen = 1 << 20
	maxCount     = 1 << 24
)

// Persist writes the file table to IndexPath. The symbol-name index is not
// written; Load rebuilds it.
func (s *Store) Persist() error {
	if s.indexPath == "" {
		return cserrors.IndexError("index path not configured", nil)
	}
	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return cserrors.IndexError("create index directory", err)
	}

	lock := flock.New(s.indexPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return cserrors.IndexError("lock index", err)
	}
	if !locked {
		return cserrors.New(cserrors.ErrCodeIndexLocked, "index is locked by another process", nil).
			WithDetail("path", s.indexPath)
	}
	defer func() { _ = lock.Unlock() }()

	files := s.snapshot()

	tmp, err := os.CreateTemp(filepath.Dir(s.indexPath), ".index-*.tmp")
	if err != nil {
		return cserrors.IndexError("create temp index", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	if err := encodeFiles(w, files); err != nil {
		_ = tmp.Close()
		return cserrors.New(cserrors.ErrCodeIndexEncode, "encode index", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return cserrors.IndexError("write index", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cserrors.IndexError("sync index", err)
	}
	if err := tmp.Close(); err != nil {
		return cserrors.IndexError("close index", err)
	}
	if err := os.Rename(tmpName, s.indexPath); err != nil {
		return cserrors.IndexError("install index", err)
	}

	s.logger.Debug("index persisted",
		slog.String("path", s.indexPath),
		slog.Int("files", len(files)))
	return nil
}

// Load replaces the store's contents with the file table at IndexPath and
// replays it into the symbol-name index. A missing file leaves the store
// empty and is not an error.
func (s *Store) Load() error {
	if s.indexPath == "" {
		return nil
	}
	f, err := os.Open(s.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		s.reset()
		return nil
	}
	if err != nil {
		return cserrors.IndexError("open index", err)
	}
	defer func() { _ = f.Close() }()

	files, err := decodeFiles(bufio.NewReader(f))
	if err != nil {
		return cserrors.New(cserrors.ErrCodeCorruptIndex, "decode index", err).
			WithDetail("path", s.indexPath).
			WithSuggestion("delete the index file and run 'codesearch index' again")
	}

	s.reset()
	for _, file := range files {
		s.reindexFile(file.Path, file)
	}
	s.logger.Debug("index loaded",
		slog.String("path", s.indexPath),
		slog.Int("files", len(files)))
	return nil
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) i64(v int64) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func encodeFiles(w io.Writer, files []*IndexedFile) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	e := &encoder{w: w}
	e.u32(uint32(len(files)))
	for _, f := range files {
		e.str(f.Path)
		e.str(f.ContentHash)
		e.i64(f.LastModified)
		e.i64(f.Size)
		e.u32(uint32(len(f.Symbols)))
		for _, sym := range f.Symbols {
			e.str(sym.Name)
			e.str(sym.Kind)
			e.u32(uint32(sym.Line))
			e.u32(uint32(sym.Column))
			e.str(sym.Signature)
		}
	}
	return e.err
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) u32() uint32 {
	var v uint32
	if d.err == nil {
		d.err = binary.Read(d.r, binary.LittleEndian, &v)
	}
	return v
}

func (d *decoder) i64() int64 {
	var v int64
	if d.err == nil {
		d.err = binary.Read(d.r, binary.LittleEndian, &v)
	}
	return v
}

func (d *decoder) count() int {
	n := d.u32()
	if d.err == nil && n > maxCount {
		d.err = fmt.Errorf("count %d out of range", n)
	}
	return int(n)
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("string length %d out of range", n)
		return ""
	}
	buf := make([]byte, n)
	_, d.err = io.ReadFull(d.r, buf)
	return string(buf)
}

func decodeFiles(r io.Reader) ([]*IndexedFile, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("bad header %q", magic[:])
	}

	d := &decoder{r: r}
	n := d.count()
	files := make([]*IndexedFile, 0, min(n, 4096))
	for i := 0; i < n && d.err == nil; i++ {
		f := &IndexedFile{
			Path:         d.str(),
			ContentHash:  d.str(),
			LastModified: d.i64(),
			Size:         d.i64(),
		}
		nsym := d.count()
		if d.err != nil {
			break
		}
		f.Symbols = make([]IndexedSymbol, 0, min(nsym, 4096))
		for j := 0; j < nsym && d.err == nil; j++ {
			f.Symbols = append(f.Symbols, IndexedSymbol{
				Name:      d.str(),
				Kind:      d.str(),
				Line:      int(d.u32()),
				Column:    int(d.u32()),
				Signature: d.str(),
			})
		}
		files = append(files, f)
	}
	if d.err != nil {
		if errors.Is(d.err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, d.err
	}
	return files, nil
}
