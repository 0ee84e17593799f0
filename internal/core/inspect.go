package core

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format classifies a payload's container.
type Format int

const (
	// FormatUnknown means the container is not yet determined; compressed
	// payloads without a recognized filename stay unknown until after
	// decompression.
	FormatUnknown Format = iota
	// FormatRaw means the payload is the executable itself.
	FormatRaw
	// FormatTar is a tar archive, possibly compressed.
	FormatTar
	// FormatZip is a zip archive.
	FormatZip
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "binary"
	case FormatTar:
		return "tar"
	case FormatZip:
		return "zip"
	default:
		return "unknown"
	}
}

// Compression identifies the compression wrapped around a tar archive or a
// bare single-file payload.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionXz
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionXz:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseFormat maps a user-supplied override to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "tar":
		return FormatTar, nil
	case "zip":
		return FormatZip, nil
	case "binary", "raw":
		return FormatRaw, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown archive format %q (want tar, zip, or binary)", s)
	}
}

// ParseCompression maps a user-supplied override to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "gzip", "gz":
		return CompressionGzip, nil
	case "bzip2", "bz2":
		return CompressionBzip2, nil
	case "xz":
		return CompressionXz, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q (want gzip, bzip2, xz, zstd, or none)", s)
	}
}

// FormatSpec pairs a container format with its compression.
type FormatSpec struct {
	Format      Format
	Compression Compression
}

// tarSuffixes maps filename suffixes to a tar container's compression.
// Longer suffixes come first so .tar.gz wins over .gz.
var tarSuffixes = []struct {
	suffix      string
	compression Compression
}{
	{".tar.gz", CompressionGzip},
	{".tar.bz2", CompressionBzip2},
	{".tar.bz", CompressionBzip2},
	{".tar.xz", CompressionXz},
	{".tar.zst", CompressionZstd},
	{".tgz", CompressionGzip},
	{".tbz2", CompressionBzip2},
	{".tbz", CompressionBzip2},
	{".txz", CompressionXz},
	{".tzst", CompressionZstd},
	{".tar", CompressionNone},
}

// bareSuffixes maps compressed single-file suffixes with no container inside.
var bareSuffixes = []struct {
	suffix      string
	compression Compression
}{
	{".gz", CompressionGzip},
	{".bz2", CompressionBzip2},
	{".bz", CompressionBzip2},
	{".xz", CompressionXz},
	{".zst", CompressionZstd},
}

// Magic byte prefixes for the supported containers and compressions.
var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicZip   = []byte("PK\x03\x04")
)

// DetectFormat classifies a payload from its declared filename, falling back
// to magic bytes when the name carries no recognized suffix.
func DetectFormat(filename string, payload []byte) FormatSpec {
	lower := strings.ToLower(filename)

	for _, s := range tarSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return FormatSpec{Format: FormatTar, Compression: s.compression}
		}
	}
	if strings.HasSuffix(lower, ".zip") {
		return FormatSpec{Format: FormatZip}
	}
	for _, s := range bareSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return FormatSpec{Format: FormatRaw, Compression: s.compression}
		}
	}

	return sniffFormat(payload)
}

// sniffFormat classifies a payload by magic bytes alone. Compressed payloads
// come back with FormatUnknown: whether a tar lives inside is only knowable
// after decompressing.
func sniffFormat(payload []byte) FormatSpec {
	switch {
	case bytes.HasPrefix(payload, magicZip):
		return FormatSpec{Format: FormatZip}
	case isTarPayload(payload):
		return FormatSpec{Format: FormatTar}
	case bytes.HasPrefix(payload, magicGzip):
		return FormatSpec{Format: FormatUnknown, Compression: CompressionGzip}
	case bytes.HasPrefix(payload, magicBzip2):
		return FormatSpec{Format: FormatUnknown, Compression: CompressionBzip2}
	case bytes.HasPrefix(payload, magicXz):
		return FormatSpec{Format: FormatUnknown, Compression: CompressionXz}
	case bytes.HasPrefix(payload, magicZstd):
		return FormatSpec{Format: FormatUnknown, Compression: CompressionZstd}
	default:
		return FormatSpec{Format: FormatRaw}
	}
}

// isTarPayload reports whether data starts with a tar header: the "ustar"
// magic sits at offset 257.
func isTarPayload(data []byte) bool {
	return len(data) > 262 && string(data[257:262]) == "ustar"
}

// stripArchiveSuffix removes a recognized archive or compression suffix from
// a filename, yielding a bare name usable as a package name.
func stripArchiveSuffix(filename string) string {
	lower := strings.ToLower(filename)
	for _, s := range tarSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return filename[:len(filename)-len(s.suffix)]
		}
	}
	if strings.HasSuffix(lower, ".zip") {
		return filename[:len(filename)-len(".zip")]
	}
	for _, s := range bareSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return filename[:len(filename)-len(s.suffix)]
		}
	}
	return filename
}

// Executable is the extraction target: raw bytes plus the name found inside
// the archive, or derived from the filename for raw payloads.
type Executable struct {
	Name string
	Data []byte
}

// MemberChoice is one archive member the caller may select.
type MemberChoice struct {
	Name       string // full path inside the archive
	Size       int64
	Executable bool // executable bit set on the member
}

// InspectResult is the outcome of inspecting a payload. Either Executable is
// set, or Candidates holds the members the caller must choose between via
// Select.
type InspectResult struct {
	Executable *Executable
	Candidates []MemberChoice

	format Format // container, retained to complete a pending selection
	data   []byte // decompressed payload, retained likewise
}

// NeedsSelection reports whether the caller must pick a member.
func (r *InspectResult) NeedsSelection() bool { return r.Executable == nil }

// Select completes a pending selection by extracting the candidate at index i.
func (r *InspectResult) Select(i int) (*Executable, error) {
	if !r.NeedsSelection() {
		return r.Executable, nil
	}
	if i < 0 || i >= len(r.Candidates) {
		return nil, fmt.Errorf("member index %d out of range (1-%d)", i+1, len(r.Candidates))
	}

	switch r.format {
	case FormatTar:
		return extractTarMember(r.data, r.Candidates[i])
	case FormatZip:
		return extractZipMember(r.data, r.Candidates[i])
	default:
		return nil, fmt.Errorf("no archive payload retained for selection")
	}
}

// Inspect classifies a downloaded payload and extracts the target
// executable, or enumerates candidate members when the choice is ambiguous.
//
// wantName is the expected package name, used as a tie breaker when no
// member carries an executable bit. A non-nil override (from user flags)
// bypasses detection entirely, for payloads whose filename lies or says
// nothing.
func Inspect(payload []byte, filename, wantName string, override *FormatSpec) (*InspectResult, error) {
	spec := DetectFormat(filename, payload)
	if override != nil {
		spec = *override
	}

	// Peel compression first. For payloads classified by magic bytes the
	// container is only knowable now, from the decompressed data.
	data := payload
	if spec.Compression != CompressionNone {
		var err error
		data, err = decompress(payload, spec.Compression)
		if err != nil {
			return nil, &UnsupportedFormatError{Filename: filename}
		}
		if spec.Format == FormatUnknown {
			if isTarPayload(data) {
				spec.Format = FormatTar
			} else {
				spec.Format = FormatRaw
			}
		}
	}

	switch spec.Format {
	case FormatTar:
		return inspectTar(data, filename, wantName)
	case FormatZip:
		return inspectZip(data, filename, wantName)
	default:
		name := wantName
		if name == "" {
			name = stripArchiveSuffix(filename)
		}
		return &InspectResult{Executable: &Executable{Name: name, Data: data}}, nil
	}
}

// decompress unwraps one compression layer.
func decompress(payload []byte, c Compression) ([]byte, error) {
	br := bytes.NewReader(payload)

	var r io.Reader
	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case CompressionBzip2:
		r = bzip2.NewReader(br)
	case CompressionXz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, err
		}
		r = xr
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return payload, nil
	}

	return io.ReadAll(r)
}

func inspectTar(data []byte, filename, wantName string) (*InspectResult, error) {
	tr := tar.NewReader(bytes.NewReader(data))

	var members []MemberChoice
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken stream before any member means this was never
			// a tar at all.
			if len(members) == 0 {
				return nil, &UnsupportedFormatError{Filename: filename}
			}
			return nil, fmt.Errorf("reading archive %s: %w", filename, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, MemberChoice{
			Name:       hdr.Name,
			Size:       hdr.Size,
			Executable: hdr.FileInfo().Mode()&0o111 != 0,
		})
	}

	if len(members) == 0 {
		return nil, &EmptyArchiveError{Filename: filename}
	}

	if idx, ok := chooseMember(members, wantName); ok {
		exe, err := extractTarMember(data, members[idx])
		if err != nil {
			return nil, err
		}
		return &InspectResult{Executable: exe}, nil
	}

	return &InspectResult{Candidates: members, format: FormatTar, data: data}, nil
}

func inspectZip(data []byte, filename, wantName string) (*InspectResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &UnsupportedFormatError{Filename: filename}
	}

	var members []MemberChoice
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members = append(members, MemberChoice{
			Name:       f.Name,
			Size:       int64(f.UncompressedSize64),
			Executable: f.Mode()&0o111 != 0,
		})
	}

	if len(members) == 0 {
		return nil, &EmptyArchiveError{Filename: filename}
	}

	if idx, ok := chooseMember(members, wantName); ok {
		exe, err := extractZipMember(data, members[idx])
		if err != nil {
			return nil, err
		}
		return &InspectResult{Executable: exe}, nil
	}

	return &InspectResult{Candidates: members, format: FormatZip, data: data}, nil
}

// chooseMember applies the automatic selection rules: a single-member
// archive is unambiguous, then a single member with the executable bit wins,
// then a single member whose base name matches the expected package name.
func chooseMember(members []MemberChoice, wantName string) (int, bool) {
	if len(members) == 1 {
		return 0, true
	}

	execIdx, execCount := -1, 0
	for i, m := range members {
		if m.Executable {
			execIdx, execCount = i, execCount+1
		}
	}
	if execCount == 1 {
		return execIdx, true
	}

	if wantName != "" {
		nameIdx, nameCount := -1, 0
		for i, m := range members {
			if path.Base(m.Name) == wantName {
				nameIdx, nameCount = i, nameCount+1
			}
		}
		if nameCount == 1 {
			return nameIdx, true
		}
	}

	return -1, false
}

func extractTarMember(data []byte, member MemberChoice) (*Executable, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("member %s not found in archive", member.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive member %s: %w", member.Name, err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Name != member.Name {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", member.Name, err)
		}
		return &Executable{Name: path.Base(member.Name), Data: content}, nil
	}
}

func extractZipMember(data []byte, member MemberChoice) (*Executable, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != member.Name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", member.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", member.Name, err)
		}
		return &Executable{Name: path.Base(member.Name), Data: content}, nil
	}
	return nil, fmt.Errorf("member %s not found in archive", member.Name)
}
