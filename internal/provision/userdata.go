package provision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"text/template"
)

// setupScriptTemplate is the remote configuration script. It runs once at
// first boot, reports progress to the push-notification topic, and ends
// with the terminal keyword the deployment monitor waits for.
const setupScriptTemplate = `#!/usr/bin/env bash
set -euo pipefail

notify() {
  curl -fsS -d "$1" "{{.NotifyServer}}/{{.Topic}}" >/dev/null 2>&1 || true
}

notify "install started on $(hostname)"

export DEBIAN_FRONTEND=noninteractive
apt-get update -y
apt-get install -y ca-certificates curl

notify "installing container runtime"
curl -fsSL https://get.docker.com | sh
systemctl enable --now docker

notify "starting inference services"
cd /opt/gpudeploy
docker compose up -d

notify "pulling model {{.Model}}"
docker compose exec -T inference ollama pull "{{.Model}}"

notify "final stage: services starting, reboot imminent"
reboot
`

// composeTemplate defines the two dependent services: the inference API
// and the chat front end wired to it.
const composeTemplate = `services:
  inference:
    image: ollama/ollama:latest
    restart: unless-stopped
    ports:
      - "{{.APIPort}}:11434"
    volumes:
      - ollama-data:/root/.ollama
    deploy:
      resources:
        reservations:
          devices:
            - driver: nvidia
              count: all
              capabilities: [gpu]

  webui:
    image: ghcr.io/open-webui/open-webui:main
    restart: unless-stopped
    ports:
      - "{{.UIPort}}:8080"
    environment:
      - OLLAMA_BASE_URL=http://inference:11434
    depends_on:
      - inference
    volumes:
      - webui-data:/app/backend/data

volumes:
  ollama-data:
  webui-data:
`

// cloudInitTemplate embeds both artifacts base64-encoded so the instance
// needs no external fetches at boot time.
const cloudInitTemplate = `#cloud-config
hostname: {{.Label}}
write_files:
  - path: /opt/gpudeploy/setup.sh
    permissions: "0755"
    encoding: b64
    content: {{.SetupB64}}
  - path: /opt/gpudeploy/docker-compose.yml
    permissions: "0644"
    encoding: b64
    content: {{.ComposeB64}}
runcmd:
  - /opt/gpudeploy/setup.sh 2>&1 | tee -a /var/log/gpudeploy-setup.log
`

// UserDataParams parameterizes the configuration payload.
type UserDataParams struct {
	Label        string
	Model        string
	NotifyServer string
	Topic        string
	APIPort      int
	UIPort       int
}

// BuildUserData renders the full cloud-init document for an instance.
func BuildUserData(p UserDataParams) (string, error) {
	setup, err := render("setup", setupScriptTemplate, p)
	if err != nil {
		return "", err
	}
	compose, err := render("compose", composeTemplate, p)
	if err != nil {
		return "", err
	}

	doc, err := render("cloud-init", cloudInitTemplate, struct {
		Label      string
		SetupB64   string
		ComposeB64 string
	}{
		Label:      p.Label,
		SetupB64:   base64.StdEncoding.EncodeToString([]byte(setup)),
		ComposeB64: base64.StdEncoding.EncodeToString([]byte(compose)),
	})
	if err != nil {
		return "", err
	}

	return doc, nil
}

// RenderCompose renders just the service definition, for pushing a
// refreshed copy to an existing instance.
func RenderCompose(p UserDataParams) (string, error) {
	return render("compose", composeTemplate, p)
}

func render(name, tmpl string, data interface{}) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %v", name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %v", name, err)
	}

	return buf.String(), nil
}
