package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/glotchimo/ark/internal/snapshot"
)

const (
	Protocol      = "ark-rev1"
	FormatVersion = "1"
	TypeBackup    = "backup"

	SectionMeta = "meta"
	SectionCore = "core.json.gz"
)

var (
	ErrBadMagic = errors.New("not an ark archive")
	ErrTooLarge = errors.New("document too large")
)

// maxDocument caps the decompressed size of the core section.
var maxDocument int64 = 64 << 20

type Meta struct {
	CreatedAt time.Time `json:"c"`
	Protocol  string    `json:"p"`

	// FormatVersion changes on breaking layout changes within a protocol.
	FormatVersion string `json:"v,omitempty"`

	Type string `json:"t"`

	Extra map[string]string `json:"m,omitempty"`
}

// File is a tar archive being assembled in memory.
type File struct {
	tw  *tar.Writer
	buf *bytes.Buffer
}

func NewFile() *File {
	buf := bytes.NewBuffer([]byte{})
	return &File{buf: buf, tw: tar.NewWriter(buf)}
}

func (f *File) WriteSection(buf *bytes.Buffer, name string) error {
	err := f.tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0600,
		Size: int64(buf.Len()),
	})
	if err != nil {
		return fmt.Errorf("failed to write section %s: %w", name, err)
	}

	if _, err := f.tw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write section %s: %w", name, err)
	}
	return nil
}

func (f *File) WriteJSONSection(v any, name string) error {
	buf := bytes.NewBuffer([]byte{})
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return fmt.Errorf("failed to encode section %s: %w", name, err)
	}
	return f.WriteSection(buf, name)
}

func (f *File) WriteJSONGzSection(v any, name string) error {
	buf := bytes.NewBuffer([]byte{})
	gz := gzip.NewWriter(buf)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		return fmt.Errorf("failed to encode section %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress section %s: %w", name, err)
	}
	return f.WriteSection(buf, name)
}

// Build closes the archive. The file must not be written to afterwards.
func (f *File) Build() (*bytes.Buffer, error) {
	if err := f.tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	return f.buf, nil
}

// Write packs a snapshot into an archive with a meta section and the gzipped document.
func Write(s *snapshot.Snapshot, created time.Time, extra map[string]string) ([]byte, error) {
	f := NewFile()

	meta := Meta{
		CreatedAt:     created.UTC(),
		Protocol:      Protocol,
		FormatVersion: FormatVersion,
		Type:          TypeBackup,
		Extra:         extra,
	}
	if err := f.WriteJSONSection(meta, SectionMeta); err != nil {
		return nil, err
	}
	if err := f.WriteJSONGzSection(s, SectionCore); err != nil {
		return nil, err
	}

	buf, err := f.Build()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadSections extracts every section of a tar archive.
func ReadSections(r io.Reader) (map[string]*bytes.Buffer, error) {
	tr := tar.NewReader(r)
	sections := make(map[string]*bytes.Buffer)

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}

		buf := bytes.NewBuffer([]byte{})
		if _, err := io.Copy(buf, tr); err != nil {
			return nil, fmt.Errorf("failed to read section %s: %w", h.Name, err)
		}
		sections[h.Name] = buf
	}

	return sections, nil
}

// Read unpacks an archive produced by Write.
func Read(b []byte) (*Meta, *snapshot.Snapshot, error) {
	sections, err := ReadSections(bytes.NewReader(b))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}

	raw, ok := sections[SectionMeta]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no metadata present", ErrBadMagic)
	}

	var meta Meta
	if err := json.NewDecoder(raw).Decode(&meta); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to decode meta: %w", ErrBadMagic, err)
	}
	if meta.Protocol != Protocol {
		return nil, nil, fmt.Errorf("%w: invalid protocol %q", ErrBadMagic, meta.Protocol)
	}
	if meta.Type != TypeBackup {
		return nil, nil, fmt.Errorf("%w: unexpected type %q", ErrBadMagic, meta.Type)
	}

	core, ok := sections[SectionCore]
	if !ok {
		return nil, nil, fmt.Errorf("section %s not found", SectionCore)
	}

	gz, err := gzip.NewReader(core)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress %s: %w", SectionCore, err)
	}
	defer gz.Close()

	doc, err := io.ReadAll(io.LimitReader(gz, maxDocument+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress %s: %w", SectionCore, err)
	}
	if int64(len(doc)) > maxDocument {
		return nil, nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, SectionCore, maxDocument)
	}

	s, err := DecodeJSON(doc)
	if err != nil {
		return nil, nil, err
	}
	return &meta, s, nil
}
