//go:build mage

// Copyright (C) 2026 GÉANT Association
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package main

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"github.com/caarlos0/env/v11"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	daemon "github.com/google/go-containerregistry/pkg/v1/daemon"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// ── Namespaces ────────────────────────────────────────────────────────────────

type Build mg.Namespace // build:all
type Test mg.Namespace  // test:unit
type Dev mg.Namespace   // dev:check  dev:tidy  dev:clean  dev:container

// ── Helpers ───────────────────────────────────────────────────────────────────

func ensureBinDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return "", err
	}
	return binDir, nil
}

// ── build:* ───────────────────────────────────────────────────────────────────

// All compiles both binaries (silverbullet-ca and silverbullet-ctl) to bin/.
func (Build) All() error {
	fmt.Println("Building...")
	binDir, err := ensureBinDir()
	if err != nil {
		return err
	}

	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}

	// CGO stays on: the sqlite driver needs it.
	if err := sh.RunV("go", "build",
		"-o", filepath.Join(binDir, "silverbullet-ca"+ext),
		"./cmd/silverbullet-ca"); err != nil {
		return err
	}

	return sh.RunV("go", "build",
		"-o", filepath.Join(binDir, "silverbullet-ctl"+ext),
		"./cmd/silverbullet-ctl")
}

// ── test:* ────────────────────────────────────────────────────────────────────

// Unit runs the unit test suites.
func (Test) Unit() error {
	fmt.Println("Running unit tests...")
	return sh.RunV("go", "test", "-v",
		"./internal/api/...",
		"./internal/ca/...",
		"./internal/storage/...",
		"./cmd/...",
	)
}

// ── dev:* ─────────────────────────────────────────────────────────────────────

// Check formats-checks and vets the tree.
func (Dev) Check() error {
	mg.Deps(Dev{}.Tidy)
	fmt.Println("Running verify...")
	out, err := sh.Output("gofmt", "-l", ".")
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("these files need formatting (run 'go fmt ./...'):\n%s", out)
	}
	return sh.Run("go", "vet", "./...")
}

// Tidy runs go mod tidy.
func (Dev) Tidy() error {
	fmt.Println("Tidying modules...")
	return sh.Run("go", "mod", "tidy")
}

// Clean removes the bin/ directory.
func (Dev) Clean() error {
	fmt.Println("Cleaning...")
	return sh.Rm("bin")
}

// Container creates a minimal OCI image from the silverbullet-ca binary and
// loads it into the local Docker / Podman daemon.
//
// Configuration (via environment variables):
//
//	IMAGE_NAME   Target tag       (default: silverbullet-ca:latest)
//	BINARY_PATH  Source binary    (default: ./bin/silverbullet-ca)
func (Dev) Container() error {
	cfg := ContainerConfig{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("config parse failed: %w", err)
	}
	fmt.Printf("Building '%s' (binary: %s)...\n", cfg.Image, cfg.Binary)

	binLayer, err := tarLayer(map[string]string{"/app": cfg.Binary}, nil)
	if err != nil {
		return fmt.Errorf("failed to package binary: %w", err)
	}

	dirLayer, err := tarLayer(nil, []string{"/data"})
	if err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	img, err := mutate.AppendLayers(empty.Image, binLayer, dirLayer)
	if err != nil {
		return fmt.Errorf("image mutation failed: %w", err)
	}

	img, err = mutate.Config(img, v1.Config{
		Entrypoint: []string{"/app"},
		Cmd:        []string{"--cadir", "/data", "--host", "0.0.0.0"},
	})
	if err != nil {
		return fmt.Errorf("failed to set image config: %w", err)
	}

	tag, err := name.NewTag(cfg.Image)
	if err != nil {
		return err
	}

	if _, err := daemon.Write(tag, img); err != nil {
		return fmt.Errorf("failed to load to daemon: %w", err)
	}

	fmt.Println("Success! Image loaded.")
	return nil
}

// ── types and helpers ─────────────────────────────────────────────────────────

type ContainerConfig struct {
	Image  string `env:"IMAGE_NAME" envDefault:"silverbullet-ca:latest"`
	Binary string `env:"BINARY_PATH" envDefault:"./bin/silverbullet-ca"`
}

func tarLayer(files map[string]string, dirs []string) (v1.Layer, error) {
	b := new(bytes.Buffer)
	tw := tar.NewWriter(b)

	for _, dir := range dirs {
		if err := tw.WriteHeader(&tar.Header{Name: dir, Mode: 0755, Typeflag: tar.TypeDir}); err != nil {
			return nil, err
		}
	}

	for dest, src := range files {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src, err)
		}
		if err := tw.WriteHeader(&tar.Header{Name: dest, Mode: 0755, Size: int64(len(data))}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	tw.Close()

	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b.Bytes())), nil
	})
}
