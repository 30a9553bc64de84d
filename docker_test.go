package dealhub_test

import (
	"os"
	"strings"
	"testing"
)

func readRepoFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// composeServices はdocker-compose.ymlのservices配下をサービス名ごとのブロックに分割する。
func composeServices(t *testing.T) map[string]string {
	t.Helper()
	services := make(map[string]string)
	var current string
	inServices := false
	for _, line := range strings.Split(readRepoFile(t, "docker-compose.yml"), "\n") {
		switch {
		case line == "services:":
			inServices = true
			continue
		case line != "" && !strings.HasPrefix(line, " "):
			inServices = false
			current = ""
			continue
		}
		if !inServices {
			continue
		}
		if strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ") && strings.HasSuffix(line, ":") {
			current = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		if current != "" {
			services[current] += line + "\n"
		}
	}
	return services
}

// dockerfileInstructions は指定命令で始まる行を返す。
func dockerfileInstructions(t *testing.T, instruction string) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(readRepoFile(t, "Dockerfile"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, instruction+" ") {
			out = append(out, trimmed)
		}
	}
	return out
}

func TestDockerfile_BuildsDealhubInGoStage(t *testing.T) {
	froms := dockerfileInstructions(t, "FROM")
	if len(froms) < 2 || !strings.HasPrefix(froms[0], "FROM golang:") {
		t.Fatalf("expected a golang build stage followed by a runtime stage, got %v", froms)
	}

	var built bool
	for _, run := range dockerfileInstructions(t, "RUN") {
		if strings.Contains(run, "go build") && strings.Contains(run, "CGO_ENABLED=0") &&
			strings.HasSuffix(run, "-o /out/dealhub ./cmd/dealhub") {
			built = true
		}
	}
	if !built {
		t.Error("Dockerfile should build a static dealhub binary from ./cmd/dealhub")
	}
}

func TestDockerfile_RuntimeIsDistrolessNonroot(t *testing.T) {
	froms := dockerfileInstructions(t, "FROM")
	last := froms[len(froms)-1]
	if !strings.Contains(last, "gcr.io/distroless/static") || !strings.HasSuffix(last, ":nonroot") {
		t.Errorf("runtime stage should be distroless static nonroot, got %q", last)
	}
	if users := dockerfileInstructions(t, "USER"); len(users) == 0 || !strings.Contains(users[len(users)-1], "nonroot") {
		t.Errorf("runtime should run as nonroot, got %v", users)
	}
}

func TestDockerfile_EntrypointAndHealthcheck(t *testing.T) {
	tests := []struct {
		instruction string
		want        string
	}{
		{"ENTRYPOINT", `ENTRYPOINT ["/usr/local/bin/dealhub"]`},
		{"CMD", `CMD ["serve"]`},
		{"EXPOSE", "EXPOSE 8080"},
	}
	for _, tt := range tests {
		t.Run(tt.instruction, func(t *testing.T) {
			got := dockerfileInstructions(t, tt.instruction)
			if len(got) == 0 || got[len(got)-1] != tt.want {
				t.Errorf("%s = %v, want %q", tt.instruction, got, tt.want)
			}
		})
	}

	// distrolessにはシェルが無いためサブコマンドでヘルスチェックする
	checks := dockerfileInstructions(t, "HEALTHCHECK")
	if len(checks) != 1 || !strings.Contains(checks[0], `CMD ["/usr/local/bin/dealhub", "healthcheck"]`) {
		t.Errorf("HEALTHCHECK = %v, want the healthcheck subcommand", checks)
	}
}

func TestDockerCompose_ServiceCommands(t *testing.T) {
	services := composeServices(t)

	tests := []struct {
		service string
		want    string
	}{
		{"migrate", `command: ["migrate"]`},
		{"api", `command: ["serve"]`},
		{"worker", `command: ["worker"]`},
		{"db", "image: postgres:"},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			block, ok := services[tt.service]
			if !ok {
				t.Fatalf("service %q missing (have %v)", tt.service, keys(services))
			}
			if !strings.Contains(block, tt.want) {
				t.Errorf("service %q should contain %q", tt.service, tt.want)
			}
		})
	}
}

func TestDockerCompose_StartupOrder(t *testing.T) {
	services := composeServices(t)

	// マイグレーションはDBの起動完了後、api・workerはマイグレーション完了後に起動する
	if !strings.Contains(services["migrate"], "db:\n        condition: service_healthy") {
		t.Error("migrate should wait for a healthy db")
	}
	for _, svc := range []string{"api", "worker"} {
		if !strings.Contains(services[svc], "migrate:\n        condition: service_completed_successfully") {
			t.Errorf("%s should start after migrate completes", svc)
		}
	}
	if !strings.Contains(services["db"], "pg_isready -U dealhub") {
		t.Error("db should expose a pg_isready healthcheck")
	}
}

func TestDockerCompose_OnlyAPIHasEgress(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")
	if !strings.Contains(content, "  internal:\n    internal: true") {
		t.Fatal("docker-compose.yml should define an internal-only network")
	}

	services := composeServices(t)
	for name, block := range services {
		hasExternal := strings.Contains(block, "- external")
		if name == "api" && !hasExternal {
			t.Error("api needs the external network to reach the mail provider")
		}
		if name != "api" && hasExternal {
			t.Errorf("%s must stay on the internal network", name)
		}
		if !strings.Contains(block, "- internal") {
			t.Errorf("%s should join the internal network", name)
		}
	}
}

func TestEnvExample_ListsRequiredSecrets(t *testing.T) {
	content := readRepoFile(t, ".env.example")
	for _, key := range []string{"JWT_ACCESS_SECRET=", "JWT_REFRESH_SECRET=", "STORE_DRIVER=", "CORS_ALLOWED_ORIGIN=", "MAIL_DRIVER="} {
		if !strings.Contains(content, key) {
			t.Errorf(".env.example should define %s", strings.TrimSuffix(key, "="))
		}
	}
	if strings.Contains(content, "APP_ENV=production") {
		t.Error(".env.example must not default to production")
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
