package backup

import (
	"encoding/json"
	"os"
	"path"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

const (
	ManifestName    = "manifest.json"
	ObjectsDir      = "objects"
	ManifestVersion = 1
	SidecarSuffix   = ".manifest.json"
)

// Entry is one archived resource. Objects are stored by content hash, so identical content is archived once.
type Entry struct {
	Kind     model.Kind  `json:"kind"`
	Identity string      `json:"identity"`
	Path     string      `json:"path"`
	Sha256   string      `json:"sha256"`
	Size     int64       `json:"size"`
	Mode     os.FileMode `json:"mode"`
}

func (e *Entry) Ref() model.Ref {
	return model.NewRef(e.Kind, e.Identity)
}

func (e *Entry) ObjectName() string {
	return path.Join(ObjectsDir, e.Sha256)
}

type Manifest struct {
	Version   int       `json:"version"`
	ModelId   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}

// ReadManifest loads a sidecar manifest written next to an archive.
func ReadManifest(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read manifest [%s]", p)
	}
	return decodeManifest(data, p)
}

func decodeManifest(data []byte, source string) (*Manifest, error) {
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &model.IntegrityError{Identity: source, Reason: "manifest is not valid json: " + err.Error()}
	}
	if m.Version != ManifestVersion {
		return nil, &model.IntegrityError{Identity: source, Reason: "unsupported manifest version"}
	}
	for _, e := range m.Entries {
		if !path.IsAbs(e.Path) || path.Clean(e.Path) != e.Path {
			return nil, &model.IntegrityError{Identity: e.Identity, Reason: "entry path '" + e.Path + "' is not a clean absolute path"}
		}
		if len(e.Sha256) != 64 {
			return nil, &model.IntegrityError{Identity: e.Identity, Reason: "malformed sha256"}
		}
	}
	return m, nil
}
