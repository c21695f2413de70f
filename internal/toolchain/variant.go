package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/manifest"
)

const (
	ProfilesDir = "patches"
	vrSuffix    = "-vr"
	nonVRSuffix = "-nonvr"
)

// VariantInstaller writes the VR and non-VR launch profiles of packs that
// declare VR support. Both inherit from the base launch profile.
type VariantInstaller struct{}

type variantProfile struct {
	ID               string `json:"id"`
	InheritsFrom     string `json:"inheritsFrom"`
	MinecraftVersion string `json:"minecraftVersion,omitempty"`
	VR               bool   `json:"vr"`
}

func (VariantInstaller) Install(ctx context.Context, instanceDir string, m *manifest.PackManifest, baseLaunchID string) (string, string, error) {
	if strings.TrimSpace(baseLaunchID) == "" {
		return "", "", fmt.Errorf("launch variants need a base launch id")
	}
	dir := filepath.Join(instanceDir, ProfilesDir)
	if err := removeOldVariants(dir); err != nil {
		return "", "", fmt.Errorf("removing old launch variants: %w", err)
	}

	vrID, nonVRID := baseLaunchID+vrSuffix, baseLaunchID+nonVRSuffix
	for _, p := range []variantProfile{
		{ID: vrID, InheritsFrom: baseLaunchID, MinecraftVersion: m.MinecraftVersion, VR: true},
		{ID: nonVRID, InheritsFrom: baseLaunchID, MinecraftVersion: m.MinecraftVersion},
	} {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		if err := writeProfile(dir, p); err != nil {
			return "", "", err
		}
	}
	logging.Debugf("installed launch variants %s and %s\n", vrID, nonVRID)
	return vrID, nonVRID, nil
}

// removeOldVariants deletes profiles written by an earlier install.
func removeOldVariants(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		if strings.HasSuffix(base, vrSuffix) || strings.HasSuffix(base, nonVRSuffix) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("removing %s: %w", name, err)
			}
		}
	}
	return nil
}

func writeProfile(dir string, p variantProfile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, p.ID+".json")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	return nil
}
