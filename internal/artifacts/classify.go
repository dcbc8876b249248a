package artifacts

import (
	"path"
	"strings"

	"comfyrun/pkg/models"
)

const (
	mimeText   = "text/plain"
	mimeBinary = "application/octet-stream"
)

type classification struct {
	kind models.ArtifactKind
	mime string
}

// extensions maps a lower-case file suffix to its kind and MIME type.
var extensions = map[string]classification{
	".png":  {models.ArtifactKindImage, "image/png"},
	".jpg":  {models.ArtifactKindImage, "image/jpeg"},
	".jpeg": {models.ArtifactKindImage, "image/jpeg"},
	".webp": {models.ArtifactKindImage, "image/webp"},
	".gif":  {models.ArtifactKindImage, "image/gif"},
	".wav":  {models.ArtifactKindAudio, "audio/wav"},
	".ogg":  {models.ArtifactKindAudio, "audio/ogg"},
	".mp3":  {models.ArtifactKindAudio, "audio/mpeg"},
	".flac": {models.ArtifactKindAudio, "audio/flac"},
	".mp4":  {models.ArtifactKindVideo, "video/mp4"},
	".mov":  {models.ArtifactKindVideo, "video/quicktime"},
	".webm": {models.ArtifactKindVideo, "video/webm"},
	".json": {models.ArtifactKindText, "application/json"},
	".txt":  {models.ArtifactKindText, mimeText},
	".csv":  {models.ArtifactKindText, "text/csv"},
}

// Classify derives kind and MIME type from the filename extension, ignoring
// case. Unknown extensions are binary.
func Classify(filename string) (models.ArtifactKind, string) {
	if c, ok := extensions[strings.ToLower(path.Ext(filename))]; ok {
		return c.kind, c.mime
	}
	return models.ArtifactKindBinary, mimeBinary
}

// Buckets groups artifacts by kind for presentation.
type Buckets struct {
	Images []models.Artifact
	Texts  []models.Artifact
	Audios []models.Artifact
	Videos []models.Artifact
	Others []models.Artifact
}

// Split sorts artifacts into kind buckets, preserving order within each.
func Split(arts []models.Artifact) Buckets {
	var b Buckets
	for _, a := range arts {
		switch a.Kind {
		case models.ArtifactKindImage:
			b.Images = append(b.Images, a)
		case models.ArtifactKindText:
			b.Texts = append(b.Texts, a)
		case models.ArtifactKindAudio:
			b.Audios = append(b.Audios, a)
		case models.ArtifactKindVideo:
			b.Videos = append(b.Videos, a)
		default:
			b.Others = append(b.Others, a)
		}
	}
	return b
}
