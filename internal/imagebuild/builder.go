package imagebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"

	"binportal/internal/config"
	"binportal/pkg/logger"
)

// Builder builds the service's runtime image through the Docker daemon.
type Builder struct {
	docker *client.Client
	config config.ImageConfig
	logger *logger.Logger
}

// NewBuilder creates a Builder connected to the configured Docker host.
func NewBuilder(cfg config.ImageConfig, logger *logger.Logger) (*Builder, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	} else {
		opts = append(opts, client.FromEnv)
	}

	docker, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Builder{
		docker: docker,
		config: cfg,
		logger: logger,
	}, nil
}

// Close releases the Docker client.
func (b *Builder) Close() error {
	return b.docker.Close()
}

// Ping checks connectivity to the Docker daemon.
func (b *Builder) Ping(ctx context.Context) error {
	_, err := b.docker.Ping(ctx)
	return err
}

// Build generates the Dockerfile, tars the source tree as the build context,
// and builds and verifies the runtime image. Any failure is terminal for the
// caller; a half-built runtime image is useless.
func (b *Builder) Build(ctx context.Context, contextDir string) error {
	dockerfile := Generate(b.config)

	dockerfilePath := filepath.Join(contextDir, "Dockerfile")
	if err := os.WriteFile(dockerfilePath, []byte(dockerfile), 0644); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	b.logger.Info().
		Str("tag", b.config.Tag).
		Str("context", contextDir).
		Msg("Building runtime image")

	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	buildOptions := dockertypes.ImageBuildOptions{
		Dockerfile: "Dockerfile",
		Tags:       []string{b.config.Tag},
		Remove:     true,
	}

	buildResponse, err := b.docker.ImageBuild(ctx, buildContext, buildOptions)
	if err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}
	defer buildResponse.Body.Close()

	buildOutput, err := io.ReadAll(buildResponse.Body)
	if err != nil {
		return fmt.Errorf("error reading build output: %w", err)
	}

	if err := scanBuildOutput(string(buildOutput)); err != nil {
		return err
	}

	return b.verify(ctx)
}

// scanBuildOutput looks through the daemon's JSON stream for error lines. The
// build endpoint returns 200 even when a step fails.
func scanBuildOutput(output string) error {
	if !strings.Contains(output, "\"error\"") {
		return nil
	}

	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "\"error\"") {
			continue
		}
		var errorLine struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &errorLine); err == nil && errorLine.Error != "" {
			return fmt.Errorf("docker build failed: %s", errorLine.Error)
		}
	}

	return fmt.Errorf("docker build encountered errors (see build output)")
}

// verify confirms the tagged image actually exists, retrying briefly because
// the daemon can lag the build response.
func (b *Builder) verify(ctx context.Context) error {
	var inspectErr error
	for i := 0; i < 3; i++ {
		var inspect dockertypes.ImageInspect
		inspect, _, inspectErr = b.docker.ImageInspectWithRaw(ctx, b.config.Tag)
		if inspectErr == nil {
			b.logger.Info().
				Str("image_id", inspect.ID).
				Str("tag", b.config.Tag).
				Msg("Runtime image built")
			return nil
		}
		b.logger.Warn().
			Err(inspectErr).
			Int("attempt", i+1).
			Msg("Image not visible yet, retrying")
		time.Sleep(2 * time.Second)
	}

	return fmt.Errorf("build completed but image %s not found: %w", b.config.Tag, inspectErr)
}
