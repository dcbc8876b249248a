package runner

import (
	"unicode/utf8"

	"comfyrun/pkg/models"
)

// ArtifactView is an artifact without its payload. Text artifacts carry
// their content inline.
type ArtifactView struct {
	models.Artifact
	Size int    `json:"size"`
	Text string `json:"text,omitempty"`
}

// Summary is the JSON form of a finished run.
type Summary struct {
	Record    *models.RunRecord `json:"record"`
	Artifacts []ArtifactView    `json:"artifacts"`
	Error     string            `json:"error,omitempty"`
}

// Summarize drops artifact payloads except for text.
func (r Result) Summarize() Summary {
	s := Summary{Artifacts: []ArtifactView{}}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	if r.Outcome == nil || r.Outcome.Record == nil {
		s.Record = &models.RunRecord{ID: r.RunID, Status: models.RunStatusFailed, Error: s.Error}
		return s
	}
	s.Record = r.Outcome.Record
	for _, a := range r.Outcome.Artifacts {
		av := ArtifactView{Artifact: a, Size: a.Size()}
		if a.Kind == models.ArtifactKindText && utf8.Valid(a.Bytes) {
			av.Text = string(a.Bytes)
		}
		s.Artifacts = append(s.Artifacts, av)
	}
	return s
}
