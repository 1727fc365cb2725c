package ai

import (
	"fmt"
	"strings"
)

// FileType classifies an attachment for validation and content building.
type FileType string

const (
	FileTypeImage       FileType = "image"
	FileTypePDF         FileType = "pdf"
	FileTypeDocument    FileType = "document"
	FileTypeSpreadsheet FileType = "spreadsheet"
)

// Per-type size caps in bytes.
const (
	MaxImageBytes       = 20 << 20
	MaxPDFBytes         = 50 << 20
	MaxDocumentBytes    = 25 << 20
	MaxSpreadsheetBytes = 25 << 20
)

// maxTextInlineChars caps how much decoded text from a text-like attachment
// is inlined into a vision message.
const maxTextInlineChars = 100000

// FileAttachment is one file carried by a vision-capable request. Exactly
// one of Data and URL must be set.
type FileAttachment struct {
	Type FileType
	Data []byte
	URL  string
	Mime string
	Name string
}

var supportedMimes = map[FileType]map[string]struct{}{
	FileTypeImage: {
		"image/jpeg": {}, "image/png": {}, "image/gif": {}, "image/webp": {},
	},
	FileTypePDF: {
		"application/pdf": {},
	},
	FileTypeDocument: {
		"text/plain": {}, "text/csv": {}, "text/html": {}, "text/markdown": {},
		"application/msword": {},
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	},
	FileTypeSpreadsheet: {
		"text/csv": {},
		"application/vnd.ms-excel": {},
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	},
}

// textDecodableMimes are attachment mimes whose bytes are inlined as text
// instead of described.
var textDecodableMimes = map[string]struct{}{
	"text/plain":    {},
	"text/csv":      {},
	"text/html":     {},
	"text/markdown": {},
}

// MaxBytes returns the size cap for a file type, 0 for unknown types.
func (t FileType) MaxBytes() int {
	switch t {
	case FileTypeImage:
		return MaxImageBytes
	case FileTypePDF:
		return MaxPDFBytes
	case FileTypeDocument:
		return MaxDocumentBytes
	case FileTypeSpreadsheet:
		return MaxSpreadsheetBytes
	default:
		return 0
	}
}

// Validate rejects malformed attachments before any network call is made.
func (f FileAttachment) Validate() error {
	maxBytes := f.Type.MaxBytes()
	if maxBytes == 0 {
		return NewError(ErrKindValidation, "unsupported file type: %s", f.Type)
	}
	hasData := len(f.Data) > 0
	hasURL := strings.TrimSpace(f.URL) != ""
	if hasData == hasURL {
		return NewError(ErrKindValidation, "file %q must carry exactly one of data or url", f.Name)
	}
	mime := strings.ToLower(strings.TrimSpace(f.Mime))
	if mime == "" {
		return NewError(ErrKindValidation, "file %q is missing a mime type", f.Name)
	}
	if _, ok := supportedMimes[f.Type][mime]; !ok {
		return NewError(ErrKindValidation, "file %q has unsupported mime type %s for %s", f.Name, mime, f.Type)
	}
	if hasData && len(f.Data) > maxBytes {
		return NewError(ErrKindValidation, "file %q exceeds the %d-byte limit for %s", f.Name, maxBytes, f.Type)
	}
	return nil
}

// TextDecodable reports whether the attachment bytes can be inlined as text.
func (f FileAttachment) TextDecodable() bool {
	_, ok := textDecodableMimes[strings.ToLower(strings.TrimSpace(f.Mime))]
	return ok && len(f.Data) > 0
}

// InlineText returns the decoded attachment text, truncated to the inline cap.
func (f FileAttachment) InlineText() string {
	text := string(f.Data)
	runes := []rune(text)
	if len(runes) <= maxTextInlineChars {
		return text
	}
	return string(runes[:maxTextInlineChars]) + "\n[content truncated]"
}

// ValidateFiles validates a batch, failing on the first bad attachment.
func ValidateFiles(files []FileAttachment) error {
	for _, f := range files {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Manifest renders a human-readable attachment summary, appended to the
// persisted inbound message so history reflects that files were sent.
func Manifest(files []FileAttachment) string {
	if len(files) == 0 {
		return ""
	}
	parts := make([]string, 0, len(files))
	for _, f := range files {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			name = "unnamed"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, f.Type))
	}
	return "[Attached files: " + strings.Join(parts, ", ") + "]"
}
