package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

// maxObjectSize bounds a single archived object; managed resources are configuration files.
const maxObjectSize = 64 << 20

// Archive is a loaded backup: its manifest and objects keyed by sha256.
type Archive struct {
	Manifest *Manifest
	Objects  map[string][]byte
}

// Verify checks every manifest entry against its archived object.
func (a *Archive) Verify() error {
	for _, e := range a.Manifest.Entries {
		data, found := a.Objects[e.Sha256]
		if !found {
			return &model.IntegrityError{Identity: e.Identity, Expected: e.Sha256, Reason: "object missing from archive"}
		}
		if actual := model.HashContent(data); actual != e.Sha256 {
			return &model.IntegrityError{Identity: e.Identity, Expected: e.Sha256, Actual: actual}
		}
		if int64(len(data)) != e.Size {
			return &model.IntegrityError{Identity: e.Identity, Expected: e.Sha256, Actual: e.Sha256,
				Reason: "size mismatch"}
		}
	}
	return nil
}

func writeArchive(out string, m *Manifest, objects map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return errors.Wrapf(err, "unable to create archive directory for [%s]", out)
	}
	tmp := out + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "unable to create archive [%s]", out)
	}
	if err := writeTarGz(f, m, objects); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "unable to close archive [%s]", out)
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "unable to finalize archive [%s]", out)
	}

	sidecar, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode manifest")
	}
	if err := os.WriteFile(out+SidecarSuffix, sidecar, 0644); err != nil {
		return errors.Wrapf(err, "unable to write manifest sidecar for [%s]", out)
	}
	return nil
}

func writeTarGz(w io.Writer, m *Manifest, objects map[string][]byte) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode manifest")
	}
	if err := writeTarFile(tw, ManifestName, manifest, m.CreatedAt); err != nil {
		return err
	}

	written := map[string]bool{}
	for _, e := range m.Entries {
		if written[e.Sha256] {
			continue
		}
		written[e.Sha256] = true
		if err := writeTarFile(tw, e.ObjectName(), objects[e.Sha256], m.CreatedAt); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "unable to close tar stream")
	}
	if err := gzw.Close(); err != nil {
		return errors.Wrap(err, "unable to close gzip stream")
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0600,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "unable to write header for [%s]", name)
	}
	if _, err := tw.Write(data); err != nil {
		return errors.Wrapf(err, "unable to write [%s]", name)
	}
	return nil
}

// OpenArchive reads the manifest and every object from a tar.gz backup. Entries outside the manifest and
// objects/ layout are rejected.
func OpenArchive(p string) (*Archive, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open archive [%s]", p)
	}
	defer func() { _ = f.Close() }()
	return readArchive(f, p)
}

func readArchive(r io.Reader, source string) (*Archive, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, &model.IntegrityError{Identity: source, Reason: "not a gzip stream: " + err.Error()}
	}
	defer func() { _ = gzr.Close() }()

	archive := &Archive{Objects: map[string][]byte{}}
	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &model.IntegrityError{Identity: source, Reason: "corrupt tar stream: " + err.Error()}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, &model.IntegrityError{Identity: hdr.Name, Reason: "archive entry escapes archive root"}
		}
		if hdr.Size > maxObjectSize {
			return nil, &model.IntegrityError{Identity: hdr.Name, Reason: "archive entry too large"}
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxObjectSize))
		if err != nil {
			return nil, &model.IntegrityError{Identity: hdr.Name, Reason: "unable to read entry: " + err.Error()}
		}

		switch {
		case name == ManifestName:
			if archive.Manifest, err = decodeManifest(data, source); err != nil {
				return nil, err
			}
		case path.Dir(name) == ObjectsDir:
			archive.Objects[path.Base(name)] = data
		default:
			return nil, &model.IntegrityError{Identity: hdr.Name, Reason: "unexpected archive entry"}
		}
	}

	if archive.Manifest == nil {
		return nil, &model.IntegrityError{Identity: source, Reason: ManifestName + " missing from archive"}
	}
	return archive, nil
}
