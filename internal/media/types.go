package media

// Fallback values used when an extractor reports no usable title.
const (
	UnknownTitle = "Unknown Title"
	UnknownMedia = "Unknown Media"
)

// Metadata describes a downloaded media item as reported by the extractor.
type Metadata struct {
	ID              string
	Title           string
	Author          string
	Likes           *int64
	Thumbnail       string
	DurationSeconds int64
	Ext             string
}

// File is a single in-memory media payload. The bytes never touch disk.
type File struct {
	Name string
	Data []byte
}

// Size returns the payload length used for ceiling checks.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Media is the result of a successful backend download. It is owned by the
// pipeline invocation that produced it and discarded when dispatch completes.
type Media struct {
	SourceURL string
	Files     []File
	Meta      Metadata
}
