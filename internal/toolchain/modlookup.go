package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/caedis/pack-sync/internal/downloader"
)

// HTTPModLookup resolves files against a CurseForge-style metadata API:
// GET {BaseURL}/mods/{projectID}/files/{fileID}.
type HTTPModLookup struct {
	BaseURL string
	APIKey  string
}

type fileResponse struct {
	Data struct {
		FileName    string `json:"fileName"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"data"`
}

func (l *HTTPModLookup) Resolve(ctx context.Context, projectID, fileID int64) (ModFile, error) {
	apiURL := fmt.Sprintf("%s/mods/%d/files/%d", strings.TrimRight(l.BaseURL, "/"), projectID, fileID)

	var header http.Header
	if l.APIKey != "" {
		header = http.Header{"X-Api-Key": []string{l.APIKey}}
	}
	resp, err := downloader.GetWithHeader(ctx, apiURL, header)
	if err != nil {
		return ModFile{}, fmt.Errorf("looking up project %d file %d: %w", projectID, fileID, err)
	}
	defer resp.Body.Close()

	var body fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ModFile{}, fmt.Errorf("decoding lookup for project %d file %d: %w", projectID, fileID, err)
	}

	name := strings.TrimSpace(body.Data.FileName)
	url := strings.TrimSpace(body.Data.DownloadURL)
	if url == "" {
		return ModFile{}, fmt.Errorf("project %d file %d has no download url", projectID, fileID)
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		name = path.Base(url)
	}
	return ModFile{URL: url, FileName: name, Subfolder: subfolderFor(name)}, nil
}

// subfolderFor treats zip files as resource packs and everything else as mods.
func subfolderFor(name string) string {
	if strings.EqualFold(path.Ext(name), ".zip") {
		return "resourcepacks"
	}
	return "mods"
}
