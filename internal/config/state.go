package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/spf13/afero"
)

const StateFile = ".pack-sync.json"

const (
	// FileVersion is written by this build.
	FileVersion = 2
	// MinFileVersion is the oldest schema Load trusts.
	MinFileVersion = 2
)

var fs = afero.NewOsFs()

// InstanceState records what a successful sync left on disk.
type InstanceState struct {
	FileVersion      int               `json:"fileVersion"`
	Side             string            `json:"side,omitempty"`
	PackURL          string            `json:"packUrl,omitempty"`
	Version          string            `json:"version"`
	Canary           bool              `json:"canary,omitempty"`
	ServerPackURL    string            `json:"serverPackUrl,omitempty"`
	ServerPackMD5    string            `json:"serverPackMd5,omitempty"`
	OverridesURL     string            `json:"overridesUrl,omitempty"`
	MinecraftVersion string            `json:"minecraftVersion,omitempty"`
	LoaderVersion    string            `json:"loaderVersion,omitempty"`
	LaunchID         string            `json:"launchId,omitempty"`
	VRLaunchID       string            `json:"vrLaunchId,omitempty"`
	NonVRLaunchID    string            `json:"nonVrLaunchId,omitempty"`
	TrackedHashes    map[string]string `json:"trackedHashes,omitempty"`

	// extra keeps fields written by newer builds so Save re-emits them.
	extra map[string]json.RawMessage
}

// stateFields has the same fields as InstanceState without its methods.
type stateFields InstanceState

func (s *InstanceState) UnmarshalJSON(data []byte) error {
	var known stateFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key := range knownKeys() {
		delete(all, key)
	}
	*s = InstanceState(known)
	if len(all) > 0 {
		s.extra = all
	}
	return nil
}

func (s InstanceState) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(stateFields(s))
	if err != nil || len(s.extra) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func knownKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(stateFields{})
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		keys[name] = struct{}{}
	}
	return keys
}

// Clone returns a deep copy that can be mutated without touching s.
func (s *InstanceState) Clone() *InstanceState {
	if s == nil {
		return nil
	}
	c := *s
	c.TrackedHashes = maps.Clone(s.TrackedHashes)
	c.extra = maps.Clone(s.extra)
	return &c
}

// Equal reports whether both records would serialize identically.
func (s *InstanceState) Equal(other *InstanceState) bool {
	if s == nil || other == nil {
		return s == other
	}
	a, errA := json.Marshal(s)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && string(a) == string(b)
}

// SchemaError reports a state file older than MinFileVersion.
type SchemaError struct {
	FileVersion int
	Min         int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("state file version %d is older than supported version %d", e.FileVersion, e.Min)
}

// StatePath returns the state file location for an instance.
func StatePath(instanceDir string) string {
	return filepath.Join(instanceDir, StateFile)
}

// Load reads the state of an instance. It returns (nil, nil) when there is no
// usable prior state: the file is absent, or its schema is too old to trust.
func Load(instanceDir string) (*InstanceState, error) {
	path := StatePath(instanceDir)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var state InstanceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}

	if state.FileVersion < MinFileVersion {
		schemaErr := &SchemaError{FileVersion: state.FileVersion, Min: MinFileVersion}
		logging.Warnf("%v; treating instance as unsynced\n", schemaErr)
		return nil, nil
	}

	return &state, nil
}

// Save writes s atomically: the content goes to a temporary file in the same
// directory which then replaces the state file. s itself is not modified. A
// record from a newer schema keeps its fileVersion along with its extra keys.
func Save(instanceDir string, s *InstanceState) error {
	path := StatePath(instanceDir)
	out := s.Clone()
	out.FileVersion = max(out.FileVersion, FileVersion)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := afero.TempFile(fs, instanceDir, StateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("flushing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("closing state: %w", err)
	}
	if err := fs.Chmod(tmpPath, 0o644); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("setting state permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

// GameDir returns the directory containing mods/ and config/.
// On Prism/MultiMC clients, this is <instanceDir>/.minecraft/.
// On servers and other layouts, this is just instanceDir.
func GameDir(instanceDir string) string {
	dotMC := filepath.Join(instanceDir, ".minecraft")
	if info, err := fs.Stat(dotMC); err == nil && info.IsDir() {
		return dotMC
	}
	return instanceDir
}
