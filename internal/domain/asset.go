package domain

import "strings"

// Modality enumerates the kinds of content the gateway produces.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// Artifact is the persisted output of one successful generation. The gateway
// hands ownership of LocalPath to the caller and never tracks it afterwards.
type Artifact struct {
	LocalPath  string `json:"local_path"`
	Provider   string `json:"provider,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// FileURL renders a local path as a file:/// reference usable by the panel.
func FileURL(localPath string) string {
	if localPath == "" {
		return ""
	}
	return "file:///" + strings.TrimLeft(strings.ReplaceAll(localPath, "\\", "/"), "/")
}
