package index

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
)

// envManifest is the minimal shape rebuild needs to read from
// envs/<profile_oid>/manifest.json; internal/envmat owns the authoritative
// definition.
type envManifest struct {
	ProfileOID string `json:"profile_oid"`
	RuntimeOID string `json:"runtime_oid"`
	Packages   []struct {
		PkgBuildOID string `json:"pkg_build_oid"`
	} `json:"packages"`
}

type runtimeManifest struct {
	RuntimeOID string `json:"runtime_oid"`
}

// RebuildInput bundles the filesystem locations rebuild needs to walk.
type RebuildInput struct {
	Store       string // store root containing objects/
	Envs        string // envs/<profile_oid>/manifest.json per owner
	EnvOwners   map[string]string // profile_oid -> "project-env"|"workspace-env"|"tool-env":owner_id
	Runtimes    string // runtimes/<oid>/manifest.json
	CorruptSink func(oid, reason string) // called for each corrupt blob found
}

// Rebuild reconstructs the index from on-disk manifests alone. Callers
// invoke this when the index is missing, unreadable, or fails its health
// check. It walks objects/** for object rows, then env and runtime
// materializations for refs rows, and finally marks the index healthy.
func (idx *Index) Rebuild(ctx context.Context, in RebuildInput, logger *log.Logger) error {
	if err := idx.Reset(ctx); err != nil {
		return xerrors.Errorf("rebuild: reset: %w", err)
	}

	if err := idx.walkObjects(ctx, in, logger); err != nil {
		return xerrors.Errorf("rebuild: walk objects: %w", err)
	}
	if err := idx.walkEnvManifests(ctx, in); err != nil {
		return xerrors.Errorf("rebuild: walk envs: %w", err)
	}
	if err := idx.walkRuntimeManifests(ctx, in); err != nil {
		return xerrors.Errorf("rebuild: walk runtimes: %w", err)
	}
	if err := idx.seedMeta(ctx); err != nil {
		return xerrors.Errorf("rebuild: mark healthy: %w", err)
	}
	return nil
}

func (idx *Index) walkObjects(ctx context.Context, in RebuildInput, logger *log.Logger) error {
	objectsDir := filepath.Join(in.Store, "objects")
	entries, err := os.ReadDir(objectsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	now := time.Now()
	for _, prefixEntry := range entries {
		if !prefixEntry.IsDir() {
			continue
		}
		prefixDir := filepath.Join(objectsDir, prefixEntry.Name())
		blobs, err := os.ReadDir(prefixDir)
		if err != nil {
			return err
		}
		for _, blobEntry := range blobs {
			if blobEntry.IsDir() {
				continue
			}
			oid := blobEntry.Name()
			path := filepath.Join(prefixDir, oid)
			kind, size, err := readObjectHeader(path)
			if err != nil {
				if logger != nil {
					logger.Printf("rebuild: skipping unreadable object at %s: %v", path, err)
				}
				continue
			}
			if digest, err := canon.DigestFile(path); err != nil || digest != oid {
				reason := "unreadable"
				if err == nil {
					reason = "digest mismatch"
				}
				if err := quarantine(path, in.Store); err != nil && logger != nil {
					logger.Printf("rebuild: quarantine %s: %v", path, err)
				}
				if in.CorruptSink != nil {
					in.CorruptSink(oid, reason)
				}
				continue
			}
			info, err := blobEntry.Info()
			if err != nil {
				return err
			}
			if err := idx.RecordObject(ctx, ObjectRow{
				OID:          oid,
				Kind:         kind,
				Size:         size,
				CreatedAt:    info.ModTime(),
				LastAccessed: now,
			}, Ref{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// readObjectHeader parses just enough of the canonical envelope to recover
// the kind, without materializing the full payload.
func readObjectHeader(path string) (kind string, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	var header struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(b, &header); err != nil {
		return "", 0, err
	}
	return header.Kind, info.Size(), nil
}

func quarantine(path, storeRoot string) error {
	quarantineDir := filepath.Join(storeRoot, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(quarantineDir, filepath.Base(path)))
}

func (idx *Index) walkEnvManifests(ctx context.Context, in RebuildInput) error {
	if in.Envs == "" {
		return nil
	}
	entries, err := os.ReadDir(in.Envs)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(in.Envs, e.Name(), "manifest.json")
		b, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		var m envManifest
		if err := json.Unmarshal(b, &m); err != nil {
			return xerrors.Errorf("rebuild: parse %s: %w", manifestPath, err)
		}

		ownerKey := in.EnvOwners[m.ProfileOID]
		if ownerKey == "" {
			ownerKey = "project-env:" + m.ProfileOID
		}
		ownerType, ownerID := splitOwnerKey(ownerKey)
		if err := idx.AddRef(ctx, Ref{OwnerType: ownerType, OwnerID: ownerID, OID: m.ProfileOID}); err != nil {
			return err
		}
		if m.RuntimeOID != "" {
			if err := idx.AddRef(ctx, Ref{OwnerType: "profile", OwnerID: m.ProfileOID, OID: m.RuntimeOID}); err != nil {
				return err
			}
		}
		for _, pkg := range m.Packages {
			if pkg.PkgBuildOID == "" {
				continue
			}
			if err := idx.AddRef(ctx, Ref{OwnerType: "profile", OwnerID: m.ProfileOID, OID: pkg.PkgBuildOID}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (idx *Index) walkRuntimeManifests(ctx context.Context, in RebuildInput) error {
	if in.Runtimes == "" {
		return nil
	}
	entries, err := os.ReadDir(in.Runtimes)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(in.Runtimes, e.Name(), "manifest.json")
		b, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		var m runtimeManifest
		if err := json.Unmarshal(b, &m); err != nil {
			return xerrors.Errorf("rebuild: parse %s: %w", manifestPath, err)
		}
		if err := idx.AddRef(ctx, Ref{OwnerType: "runtime", OwnerID: m.RuntimeOID, OID: m.RuntimeOID}); err != nil {
			return err
		}
	}
	return nil
}

func splitOwnerKey(key string) (ownerType, ownerID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "project-env", key
}
