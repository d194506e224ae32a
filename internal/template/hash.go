package template

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest records the expected BLAKE3 hashes of a locked template
// directory. It lives in a .checksums file next to the template.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// Lock writes a .checksums manifest covering the given files, keyed by base
// name, into dir. Later loads verify against it.
func Lock(dir string, files []string) (*ChecksumManifest, error) {
	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}

	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, f)
		}
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", f, err)
		}
		manifest.Hashes[filepath.Base(path)] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest holds the expected hashes.
	if err := os.WriteFile(filepath.Join(dir, ".checksums"), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}

	return manifest, nil
}

// LoadChecksums reads the .checksums manifest from dir.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(dir, ".checksums")

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'kiln template lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyIntegrity checks a template file against the .checksums manifest in
// its directory. A missing manifest is not an error so unlocked templates
// keep working; the caller decides whether to warn.
func VerifyIntegrity(templatePath string) error {
	dir := filepath.Dir(templatePath)
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); os.IsNotExist(err) {
		return nil
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}

	name := filepath.Base(templatePath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("template %s has no hash in checksums (run 'kiln template lock')", name)
	}

	if err := VerifyFileHash(templatePath, expected); err != nil {
		return fmt.Errorf("template verification failed: %w\n"+
			"If you edited this template intentionally, run: kiln template lock", err)
	}

	return nil
}
