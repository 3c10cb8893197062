package metadata

import "fmt"

// MediaKind classifies the archived media for name and mime synthesis.
type MediaKind string

const (
	KindPhoto     MediaKind = "photo"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindVideo     MediaKind = "video"
	KindAnimation MediaKind = "animation"
	KindVideoNote MediaKind = "videonote"
	KindSticker   MediaKind = "sticker"
	KindDocument  MediaKind = "document"
)

// syntheticPrefix names files whose upstream message carried no file name.
const syntheticPrefix = "streamgate"

// Descriptor is the immutable identity of an archived file. Once cached it
// never changes; upstream file identity is immutable.
type Descriptor struct {
	MessageID int
	FileSize  int64
	FileName  string
	MimeType  string
	UniqueID  string
	MediaKind MediaKind
}

var extByKind = map[MediaKind]string{
	KindPhoto:     "jpg",
	KindAudio:     "mp3",
	KindVoice:     "ogg",
	KindVideo:     "mp4",
	KindAnimation: "mp4",
	KindVideoNote: "mp4",
	KindSticker:   "webp",
}

var mimeByKind = map[MediaKind]string{
	KindPhoto:     "image/jpeg",
	KindVoice:     "audio/ogg",
	KindVideoNote: "video/mp4",
}

// FillSynthesized fills FileName and MimeType from MediaKind when the
// upstream message omitted them.
func (d *Descriptor) FillSynthesized() {
	if d.FileName == "" {
		ext, ok := extByKind[d.MediaKind]
		if !ok {
			ext = "bin"
		}
		d.FileName = fmt.Sprintf("%s_%d.%s", syntheticPrefix, d.MessageID, ext)
	}
	if d.MimeType == "" {
		mime, ok := mimeByKind[d.MediaKind]
		if !ok {
			mime = "application/octet-stream"
		}
		d.MimeType = mime
	}
}
