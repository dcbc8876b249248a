package models

// ArtifactKind classifies an artifact for presentation.
type ArtifactKind string

const (
	ArtifactKindImage  ArtifactKind = "image"
	ArtifactKindAudio  ArtifactKind = "audio"
	ArtifactKindVideo  ArtifactKind = "video"
	ArtifactKindText   ArtifactKind = "text"
	ArtifactKindBinary ArtifactKind = "binary"
)

// Artifact is one output file or text blob produced by a completed job.
type Artifact struct {
	NodeID    string       `json:"node_id"`
	Key       string       `json:"key"`
	Filename  string       `json:"filename"`
	Subfolder string       `json:"subfolder"`
	Type      string       `json:"type"`
	Kind      ArtifactKind `json:"kind"`
	MimeType  string       `json:"mimetype"`
	Bytes     []byte       `json:"-"`
}

// Identity is the deduplication key of an artifact.
type Identity struct {
	Filename  string
	Subfolder string
	Type      string
}

// Identity returns the (filename, subfolder, type) triple.
func (a Artifact) Identity() Identity {
	return Identity{Filename: a.Filename, Subfolder: a.Subfolder, Type: a.Type}
}

// Size returns the payload length in bytes.
func (a Artifact) Size() int {
	return len(a.Bytes)
}
