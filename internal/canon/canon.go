// Package canon implements canonical encoding and digesting of CAS object
// payloads. It is the leaf of the dependency graph: every other
// package in px ultimately calls canon.Digest to name something.
//
// The encoding is deliberately simple (ordered JSON) rather than a generic
// serialization framework, the way distri's build.Ctx.Digest hand-rolls its
// digest over proto.MarshalTextString output plus explicit extra writes
// instead of reaching for a generic object hasher.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/xerrors"
)

// Kind identifies the variant of object being encoded. It is always mixed
// into the digest so that two payloads of different kinds never alias
// to the same oid even if their JSON happens to be identical.
type Kind string

const (
	KindSource   Kind = "source"
	KindPkgBuild Kind = "pkg-build"
	KindRuntime  Kind = "runtime"
	KindProfile  Kind = "profile"
	KindMeta     Kind = "meta"
)

func (k Kind) valid() bool {
	switch k {
	case KindSource, KindPkgBuild, KindRuntime, KindProfile, KindMeta:
		return true
	default:
		return false
	}
}

// envelope is the outermost shape that gets canonically encoded: the kind
// tag plus an arbitrary payload. Payload must itself be built only from
// maps, slices, strings, bools, and json.Number/int64/float64 so that
// encoding is reproducible across hosts.
type envelope struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Encode canonically encodes (kind, payload) as UTF-8 JSON: object maps
// with lexicographically sorted keys, no insignificant whitespace, ordered
// lists preserved in order. It returns encoding_error if kind is not one of
// the known variants.
func Encode(kind Kind, payload interface{}) ([]byte, error) {
	if !kind.valid() {
		return nil, xerrors.Errorf("encoding_error: unknown kind %q", kind)
	}
	normalized, err := normalize(payload)
	if err != nil {
		return nil, xerrors.Errorf("encoding_error: %w", err)
	}
	b, err := json.Marshal(envelope{Kind: kind, Payload: normalized})
	if err != nil {
		return nil, xerrors.Errorf("encoding_error: %w", err)
	}
	return b, nil
}

// normalize round-trips payload through JSON so that map keys become
// canonically sortable and numeric representations stabilize; it does no
// further rebuilding. encoding/json already sorts map[string]X keys
// lexicographically when marshaling, so the round-trip is sufficient; normalize exists as a single choke point in
// case a non-JSON-native field (e.g. []byte) needs special handling later.
func normalize(payload interface{}) (interface{}, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Digest returns the hex-lowercased sha256 of b. This is the "oid" used to
// name every object in the store.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

// DigestOf is a convenience wrapper for Encode followed by Digest.
func DigestOf(kind Kind, payload interface{}) (string, error) {
	b, err := Encode(kind, payload)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// Decode parses b as a canonical envelope, checks that its kind matches
// want, and unmarshals the payload into out.
func Decode(b []byte, want Kind, out interface{}) error {
	var env struct {
		Kind    Kind            `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return xerrors.Errorf("decode: %w", err)
	}
	if env.Kind != want {
		return xerrors.Errorf("decode: got kind %q, want %q", env.Kind, want)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return xerrors.Errorf("decode: %w", err)
	}
	return nil
}

// SortedStrings returns a freshly sorted copy of ss, used throughout px to
// make sys_path_order, env_vars, and package lists deterministic before
// they are folded into a digest.
func SortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
