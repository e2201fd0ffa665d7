package imagebuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binportal/internal/config"
)

func testImageConfig() config.ImageConfig {
	return config.ImageConfig{
		BaseImage:      "debian:bookworm-slim",
		BuildImage:     "golang:1.23-bookworm",
		SystemPackages: []string{"wget", "gnupg", "unzip", "ca-certificates", "google-chrome-stable"},
		SigningKeyURL:  "https://dl.google.com/linux/linux_signing_key.pub",
		RepositoryLine: "deb [arch=amd64] http://dl.google.com/linux/chrome/deb/ stable main",
		Port:           10000,
		EntryPoint:     "/app/binportal-server",
		Tag:            "binportal:latest",
	}
}

func TestGenerate(t *testing.T) {
	df := Generate(testImageConfig())

	t.Run("stages", func(t *testing.T) {
		assert.Contains(t, df, "FROM golang:1.23-bookworm AS builder")
		assert.Contains(t, df, "FROM debian:bookworm-slim")
	})

	t.Run("manifests are installed before the source is copied", func(t *testing.T) {
		manifestCopy := strings.Index(df, "COPY go.mod go.sum ./")
		download := strings.Index(df, "RUN go mod download")
		sourceCopy := strings.Index(df, "COPY . .")
		require.GreaterOrEqual(t, manifestCopy, 0)
		require.GreaterOrEqual(t, download, 0)
		require.GreaterOrEqual(t, sourceCopy, 0)
		assert.Less(t, manifestCopy, download)
		assert.Less(t, download, sourceCopy)
	})

	t.Run("chrome repo is configured before chrome is installed", func(t *testing.T) {
		key := strings.Index(df, "linux_signing_key.pub")
		repo := strings.Index(df, "google-chrome.list")
		install := strings.Index(df, "install -y --no-install-recommends google-chrome-stable")
		require.GreaterOrEqual(t, key, 0)
		require.GreaterOrEqual(t, repo, 0)
		require.GreaterOrEqual(t, install, 0)
		assert.Less(t, key, repo)
		assert.Less(t, repo, install)
	})

	t.Run("bootstrap packages install without the chrome repo", func(t *testing.T) {
		firstApt := strings.Index(df, "apt-get update")
		keySetup := strings.Index(df, "linux_signing_key.pub")
		assert.Less(t, firstApt, keySetup)
		for _, pkg := range []string{"wget", "gnupg", "unzip", "ca-certificates"} {
			assert.Contains(t, df[:keySetup], pkg)
		}
	})

	t.Run("repo line is pinned to the keyring", func(t *testing.T) {
		assert.Contains(t, df, "deb [arch=amd64 signed-by=/usr/share/keyrings/google-chrome.gpg] http://dl.google.com/linux/chrome/deb/ stable main")
	})

	t.Run("port and entrypoint", func(t *testing.T) {
		assert.Contains(t, df, "ENV PORT=10000\n")
		assert.Contains(t, df, "EXPOSE 10000\n")
		assert.Contains(t, df, `ENTRYPOINT ["/app/binportal-server"]`)
	})
}

func TestGenerateWithoutChrome(t *testing.T) {
	cfg := testImageConfig()
	cfg.SystemPackages = []string{"ca-certificates"}

	df := Generate(cfg)

	assert.NotContains(t, df, "google-chrome")
	assert.NotContains(t, df, "linux_signing_key.pub")
	assert.Contains(t, df, "ca-certificates")
}

func TestScanBuildOutput(t *testing.T) {
	t.Run("clean stream", func(t *testing.T) {
		out := `{"stream":"Step 1/10 : FROM debian:bookworm-slim"}
{"stream":" ---> abc123"}`
		assert.NoError(t, scanBuildOutput(out))
	})

	t.Run("error line surfaces the daemon message", func(t *testing.T) {
		out := `{"stream":"Step 4/10 : RUN apt-get update"}
{"error":"The command '/bin/sh -c apt-get update' returned a non-zero code: 100"}`
		err := scanBuildOutput(out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-zero code: 100")
	})

	t.Run("error detail in later fields is still picked up", func(t *testing.T) {
		out := `{"errorDetail":{"code":100,"message":"apt failed"},"error":"apt failed"}`
		err := scanBuildOutput(out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apt failed")
	})

	t.Run("unparseable error line still fails the build", func(t *testing.T) {
		out := `{"error": truncated and not valid json`
		err := scanBuildOutput(out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "encountered errors")
	})
}
