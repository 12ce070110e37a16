package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

const (
	recordMediaType = types.MediaType("application/vnd.msa.attestation.v1+json")
	defaultRegistry = "ghcr.io"

	annotationAppID     = "dev.msa.app-id"
	annotationMilestone = "dev.msa.milestone-index"
	annotationRecordID  = "dev.msa.record-id"
)

func parseRef(ociRef string) (name.Reference, error) {
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry(defaultRegistry))
	if err != nil {
		return nil, fmt.Errorf("parse oci ref %q: %w", ociRef, err)
	}
	return ref, nil
}

// PublishOCI pushes the record file at inPath as a single-layer OCI artifact
// and returns the digest-pinned reference. The manifest is annotated with the
// application, milestone and record ID so registries can list them without
// pulling the layer.
func PublishOCI(inPath string, ociRef string) (string, error) {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("read record: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", inPath, err)
	}
	ref, err := parseRef(ociRef)
	if err != nil {
		return "", err
	}

	img, err := mutate.AppendLayers(empty.Image, static.NewLayer(raw, recordMediaType))
	if err != nil {
		return "", fmt.Errorf("append record layer: %w", err)
	}
	img = mutate.MediaType(img, types.OCIManifestSchema1)
	img = mutate.Annotations(img, map[string]string{
		annotationAppID:     strconv.FormatUint(rec.Attestation.AppID, 10),
		annotationMilestone: strconv.FormatUint(rec.Attestation.MilestoneIndex, 10),
		annotationRecordID:  rec.ID,
	}).(v1.Image)

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(authn.DefaultKeychain)); err != nil {
		return "", fmt.Errorf("push %s: %w", ref, err)
	}
	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("compute manifest digest: %w", err)
	}
	return ref.Context().Digest(digest.String()).String(), nil
}

// PullOCI fetches the attestation record layer of ociRef into outPath.
// Artifacts without a record layer are rejected.
func PullOCI(ociRef string, outPath string) error {
	ref, err := parseRef(ociRef)
	if err != nil {
		return err
	}
	img, err := remote.Image(ref, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	layer, err := recordLayer(img)
	if err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}

	rc, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("open record layer: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read record layer: %w", err)
	}
	if _, err := decodeRecord(raw); err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return fmt.Errorf("write pulled record: %w", err)
	}
	return nil
}

func recordLayer(img v1.Image) (v1.Layer, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	for _, l := range layers {
		mt, err := l.MediaType()
		if err != nil {
			return nil, err
		}
		if mt == recordMediaType {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no %s layer in artifact", recordMediaType)
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.Attestation.Signature == "" {
		return Record{}, fmt.Errorf("not an attestation record")
	}
	return rec, nil
}
