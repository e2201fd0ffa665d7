package imagebuild

import (
	"fmt"
	"strings"

	"binportal/internal/config"
)

// chromePackage is installed from Google's apt repository, so it has to wait
// until the signing key and repo line are in place.
const chromePackage = "google-chrome-stable"

// Generate renders the multi-stage Dockerfile for the runtime image. The step
// order is fixed: dependency manifests are copied and downloaded before the
// source tree so code edits do not invalidate the module cache layer, and the
// Chrome repository is configured before Chrome is installed.
func Generate(cfg config.ImageConfig) string {
	var b strings.Builder

	bootstrap, withChrome := splitPackages(cfg.SystemPackages)

	// Build stage
	fmt.Fprintf(&b, "FROM %s AS builder\n\n", cfg.BuildImage)
	b.WriteString("WORKDIR /src\n\n")
	b.WriteString("COPY go.mod go.sum ./\n")
	b.WriteString("RUN go mod download\n\n")
	b.WriteString("COPY . .\n")
	b.WriteString("RUN CGO_ENABLED=0 go build -o /out/binportal-server ./cmd/server\n\n")

	// Runtime stage
	fmt.Fprintf(&b, "FROM %s\n\n", cfg.BaseImage)

	if len(bootstrap) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y --no-install-recommends \\\n        %s \\\n    && rm -rf /var/lib/apt/lists/*\n\n",
			strings.Join(bootstrap, " \\\n        "))
	}

	if withChrome {
		fmt.Fprintf(&b, "RUN wget -q -O - %s | gpg --dearmor > /usr/share/keyrings/google-chrome.gpg \\\n", cfg.SigningKeyURL)
		repoLine := strings.Replace(cfg.RepositoryLine, "[arch=amd64]", "[arch=amd64 signed-by=/usr/share/keyrings/google-chrome.gpg]", 1)
		fmt.Fprintf(&b, "    && echo \"%s\" > /etc/apt/sources.list.d/google-chrome.list \\\n", repoLine)
		fmt.Fprintf(&b, "    && apt-get update \\\n    && apt-get install -y --no-install-recommends %s \\\n    && rm -rf /var/lib/apt/lists/*\n\n", chromePackage)
	}

	b.WriteString("WORKDIR /app\n\n")
	fmt.Fprintf(&b, "COPY --from=builder /out/binportal-server %s\n\n", cfg.EntryPoint)
	fmt.Fprintf(&b, "ENV PORT=%d\n", cfg.Port)
	fmt.Fprintf(&b, "EXPOSE %d\n\n", cfg.Port)
	fmt.Fprintf(&b, "ENTRYPOINT [\"%s\"]\n", cfg.EntryPoint)

	return b.String()
}

// splitPackages separates Chrome from the packages the plain base image can
// install, and reports whether Chrome was requested at all.
func splitPackages(packages []string) (bootstrap []string, withChrome bool) {
	for _, p := range packages {
		if p == chromePackage {
			withChrome = true
			continue
		}
		bootstrap = append(bootstrap, p)
	}
	return bootstrap, withChrome
}
