package deploy

import "fmt"

// Stage is a named step in the provisioning pipeline
type Stage string

const (
	StagePending          Stage = "pending"
	StageInstallingDocker Stage = "installing_docker"
	StagePullingImage     Stage = "pulling_image"
	StageCreatingConfig   Stage = "creating_config"
	StageStartingXray     Stage = "starting_xray"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

// pipelineOrder is the only legal progression; a job's recorded stages are
// always a prefix of it, optionally terminated by StageFailed.
var pipelineOrder = []Stage{
	StagePending,
	StageInstallingDocker,
	StagePullingImage,
	StageCreatingConfig,
	StageStartingXray,
	StageCompleted,
}

// IsTerminal reports whether the stage admits no further transitions
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// successor returns the stage that legally follows s in the pipeline
func successor(s Stage) (Stage, bool) {
	for i, stage := range pipelineOrder {
		if stage == s && i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1], true
		}
	}
	return "", false
}

// workStages are the stages that execute remote commands, in order
var workStages = []Stage{
	StageInstallingDocker,
	StagePullingImage,
	StageCreatingConfig,
	StageStartingXray,
}

// stageCommands returns the remote command sequence for a work stage.
// Commands are idempotent where the underlying tool allows it, so a retried
// deployment against a partially provisioned host converges rather than
// erroring out.
func stageCommands(stage Stage, image, configPath string) []string {
	switch stage {
	case StageInstallingDocker:
		return []string{
			"command -v docker >/dev/null 2>&1 || curl -fsSL https://get.docker.com | sh",
			"systemctl enable --now docker",
		}
	case StagePullingImage:
		return []string{
			fmt.Sprintf("docker pull %s", image),
		}
	case StageCreatingConfig:
		return []string{
			fmt.Sprintf("mkdir -p %s", configPath),
			fmt.Sprintf("test -f %s/config.json || cat > %s/config.json <<'EOF'\n%s\nEOF", configPath, configPath, xrayConfigTemplate),
		}
	case StageStartingXray:
		return []string{
			"docker rm -f xray 2>/dev/null || true",
			fmt.Sprintf("docker run -d --name xray --restart unless-stopped --network host -v %s:/etc/xray %s", configPath, image),
			"docker ps --filter name=xray --filter status=running --format '{{.Names}}' | grep -q xray",
		}
	default:
		return nil
	}
}

// xrayConfigTemplate is the baseline server config written on first deploy.
// Client entries are added later over the management API, not at deploy time.
const xrayConfigTemplate = `{
  "log": {"loglevel": "warning"},
  "inbounds": [
    {
      "port": 443,
      "protocol": "vless",
      "settings": {"clients": [], "decryption": "none"},
      "streamSettings": {"network": "tcp", "security": "tls"}
    }
  ],
  "outbounds": [{"protocol": "freedom"}]
}`
