package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/caedis/pack-sync/internal/downloader"
	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/progress"
	"github.com/caedis/pack-sync/internal/semver"
)

// ManifestPath is the manifest location relative to a pack URL.
const ManifestPath = "manifest.json"

type PackManifest struct {
	CurrentVersion   string                  `json:"currentVersion"`
	CanaryVersion    string                  `json:"canaryVersion,omitempty"`
	MinecraftVersion string                  `json:"minecraftVersion"`
	LoaderVersion    string                  `json:"loaderVersion,omitempty"`
	ServerPack       ServerPack              `json:"serverPack"`
	ClientOverrides  *ClientOverrides        `json:"clientOverrides,omitempty"`
	Versions         map[string]VersionPatch `json:"versions,omitempty"`
	ExtraFiles       []string                `json:"extraFiles,omitempty"`
	VRSupport        bool                    `json:"vrSupport,omitempty"`
}

// ServerPack is the base archive every instance is built from.
type ServerPack struct {
	URL string `json:"url"`
	// MD5, when set, is the published digest of the archive at URL.
	MD5 string `json:"md5,omitempty"`
	// VerifyChecksum opts into rebuilding when the archive content changes
	// even though its URL did not.
	VerifyChecksum bool `json:"verifyChecksum,omitempty"`
}

// ClientOverrides is applied on top of the base archive for client installs.
type ClientOverrides struct {
	URL     string   `json:"url"`
	Folders []string `json:"folders,omitempty"`
}

type VersionPatch struct {
	Mods    map[string]ModChange           `json:"mods,omitempty"`
	Configs map[string][]ConfigReplacement `json:"configs,omitempty"`
	// Files maps instance-relative paths to download URLs.
	Files map[string]string `json:"files,omitempty"`
}

// ModChange adds, removes or replaces a mod. Remove and URL are independent:
// both set means delete the old files then install the new jar.
type ModChange struct {
	URL     string `json:"url,omitempty"`
	Remove  bool   `json:"remove,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Installs reports whether the change downloads a new file.
func (c ModChange) Installs() bool { return strings.TrimSpace(c.URL) != "" }

// Removes reports whether the change deletes existing files first.
func (c ModChange) Removes() bool { return c.Remove || c.Pattern != "" }

type ConfigReplacement struct {
	Match   string `json:"match"`
	Replace string `json:"replace"`
}

// ParseError reports a manifest payload that is not valid JSON for PackManifest.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing manifest %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigurationError reports a manifest that parsed but cannot be planned
// against, such as an unparsable version key.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid manifest field %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// URLFor returns the manifest URL for a pack base URL. A URL that already
// names a .json document is used as is.
func URLFor(packURL string) string {
	packURL = strings.TrimSpace(packURL)
	if strings.HasSuffix(strings.ToLower(packURL), ".json") {
		return packURL
	}
	return strings.TrimRight(packURL, "/") + "/" + ManifestPath
}

// Fetch downloads, parses and validates the manifest at url. sink receives
// the transfer fraction, or Indeterminate when the server sends no length.
func Fetch(ctx context.Context, url string, sink progress.Sink) (*PackManifest, error) {
	sink = progress.OrNop(sink)
	const label = "Fetching manifest"
	sink.Report(0, label)

	resp, err := downloader.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	body := &progressReader{r: resp.Body, total: resp.ContentLength, sink: sink, label: label}
	if _, err := io.Copy(&buf, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &downloader.NetworkError{URL: url, Err: err}
	}
	sink.Report(1, label)

	m, err := Parse(url, buf.Bytes())
	if err != nil {
		return nil, err
	}
	logging.Debugf("manifest fetched url=%s current=%s canary=%s versions=%d\n", url, m.CurrentVersion, m.CanaryVersion, len(m.Versions))
	return m, nil
}

// Parse decodes and validates a manifest payload. source names it in errors.
func Parse(source string, data []byte) (*PackManifest, error) {
	var m PackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields planning relies on.
func (m *PackManifest) Validate() error {
	if strings.TrimSpace(m.ServerPack.URL) == "" {
		return &ConfigurationError{Key: "serverPack.url", Err: errors.New("missing")}
	}
	if strings.TrimSpace(m.CurrentVersion) == "" {
		return &ConfigurationError{Key: "currentVersion", Err: errors.New("missing")}
	}
	if _, err := semver.Parse(m.CurrentVersion); err != nil {
		return &ConfigurationError{Key: "currentVersion", Err: err}
	}
	if m.CanaryVersion != "" {
		if _, err := semver.Parse(m.CanaryVersion); err != nil {
			return &ConfigurationError{Key: "canaryVersion", Err: err}
		}
	}
	keys := make([]string, 0, len(m.Versions))
	for k := range m.Versions {
		keys = append(keys, k)
	}
	if _, err := semver.SortKeys(keys); err != nil {
		return &ConfigurationError{Key: "versions", Err: err}
	}
	return nil
}

// TargetVersion returns the version a sync should reach. Canary instances
// follow canaryVersion when the manifest publishes one.
func (m *PackManifest) TargetVersion(canary bool) string {
	if canary && strings.TrimSpace(m.CanaryVersion) != "" {
		return m.CanaryVersion
	}
	return m.CurrentVersion
}

// OverridesURL returns the client override archive URL, or "".
func (m *PackManifest) OverridesURL() string {
	if m.ClientOverrides == nil {
		return ""
	}
	return strings.TrimSpace(m.ClientOverrides.URL)
}

type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	sink  progress.Sink
	label string
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.total > 0 {
			p.sink.Report(float64(p.read)/float64(p.total), p.label)
		} else {
			p.sink.Report(progress.Indeterminate, p.label)
		}
	}
	return n, err
}
