package trackr_test

import (
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]struct {
		Image    string   `yaml:"image"`
		Command  []string `yaml:"command"`
		Networks []string `yaml:"networks"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func readCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("docker-compose.yml should exist: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("docker-compose.yml を解析できません: %v", err)
	}
	return c
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("Dockerfile should exist: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use distroless, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsTrackrBinary(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("Dockerfile should exist: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "./cmd/trackr") {
		t.Error("Dockerfile should build ./cmd/trackr")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/usr/local/bin/trackr"]`) {
		t.Error("Dockerfile should use the trackr binary as ENTRYPOINT")
	}
	// distrolessにはシェルが無いため、バイナリのサブコマンドでヘルスチェックする
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	c := readCompose(t)

	for _, name := range []string{"api", "migrate", "db"} {
		if _, ok := c.Services[name]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", name)
		}
	}
	if _, ok := c.Services["worker"]; ok {
		t.Error("worker service is no longer used")
	}
	if !strings.HasPrefix(c.Services["db"].Image, "postgres:") {
		t.Errorf("db should use PostgreSQL image, got %q", c.Services["db"].Image)
	}
	if !slices.Equal(c.Services["migrate"].Command, []string{"migrate"}) {
		t.Errorf("migrate service command = %v", c.Services["migrate"].Command)
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	c := readCompose(t)

	if !c.Networks["backend"].Internal {
		t.Error("backend network should be internal")
	}
	if slices.Contains(c.Services["db"].Networks, "egress") {
		t.Error("db should not have egress access")
	}
	// 外部ソースとLLMを呼ぶのはAPIのみ
	if !slices.Contains(c.Services["api"].Networks, "egress") {
		t.Error("api should be attached to the egress network")
	}
}
