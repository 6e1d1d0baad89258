package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// defaultDenyPatterns blocks commands matching known-dangerous shapes before
// they ever reach the shell, independent of the orchestrator's permission
// approval gate. Defense in depth: even an approved "dangerous" call must
// still clear this list.
// Sources: OWASP Agentic AI Top 10, Claude Code CVE-2025-66032, MITRE ATT&CK,
// PayloadsAllTheThings, Trail of Bits prompt-injection-to-RCE research.
var defaultDenyPatterns = []*regexp.Regexp{
	// ── Destructive file operations ──
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	// ── Data exfiltration ──
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bcurl\b.*(-d\b|-F\b|--data|--upload|--form|-T\b|-X\s*P(UT|OST|ATCH))`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*--post-(data|file)`),
	regexp.MustCompile(`\b(nslookup|dig|host)\b`),
	regexp.MustCompile(`/dev/tcp/`),

	// ── Reverse shells ──
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bopenssl\b.*s_client`),
	regexp.MustCompile(`\btelnet\b.*\d+`),
	regexp.MustCompile(`\bpython[23]?\b.*\bimport\s+(socket|http\.client|urllib|requests)\b`),
	regexp.MustCompile(`\bperl\b.*-e\s*.*\b[Ss]ocket\b`),
	regexp.MustCompile(`\bruby\b.*-e\s*.*\b(TCPSocket|Socket)\b`),
	regexp.MustCompile(`\bnode\b.*-e\s*.*\b(net\.connect|child_process)\b`),
	regexp.MustCompile(`\bawk\b.*/inet/`),
	regexp.MustCompile(`\bmkfifo\b`),

	// ── Dangerous eval / code injection ──
	regexp.MustCompile(`\beval\s*\$`),
	regexp.MustCompile(`\bbase64\s+-d\b.*\|\s*(ba)?sh\b`),

	// ── Privilege escalation ──
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\b(capsh|setcap|getcap)\b`),

	// ── Dangerous path operations ──
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bchown\b.*\s+/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/tmp/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/var/tmp/`),
	regexp.MustCompile(`\bchmod\b.*\+x.*/dev/shm/`),

	// ── Environment variable injection ──
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bDYLD_INSERT_LIBRARIES\s*=`),
	regexp.MustCompile(`\bLD_LIBRARY_PATH\s*=`),
	regexp.MustCompile(`/etc/ld\.so\.preload`),
	regexp.MustCompile(`\bGIT_EXTERNAL_DIFF\s*=`),
	regexp.MustCompile(`\bGIT_DIFF_OPTS\s*=`),
	regexp.MustCompile(`\bBASH_ENV\s*=`),
	regexp.MustCompile(`\bENV\s*=.*\bsh\b`),

	// ── Container escape ──
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`/proc/sys/(kernel|fs|net)/`),
	regexp.MustCompile(`/sys/(kernel|fs|class|devices)/`),

	// ── Crypto mining ──
	regexp.MustCompile(`\b(xmrig|cpuminer|minerd|cgminer|bfgminer|ethminer|nbminer|t-rex|phoenixminer|lolminer|gminer|claymore)\b`),
	regexp.MustCompile(`stratum\+tcp://|stratum\+ssl://`),

	// ── Filter bypass (CVE-2025-66032) ──
	regexp.MustCompile(`\bsed\b.*['"]/e\b`),
	regexp.MustCompile(`\bsort\b.*--compress-program`),
	regexp.MustCompile(`\bgit\b.*(--upload-pack|--receive-pack|--exec)=`),
	regexp.MustCompile(`\b(rg|grep)\b.*--pre=`),
	regexp.MustCompile(`\bman\b.*--html=`),
	regexp.MustCompile(`\bhistory\b.*-[saw]\b`),
	regexp.MustCompile(`\$\{[^}]*@[PpEeAaKk]\}`),

	// ── Network abuse / reconnaissance ──
	regexp.MustCompile(`\b(nmap|masscan|zmap|rustscan)\b`),
	regexp.MustCompile(`\b(ssh|scp|sftp)\b.*@`),
	regexp.MustCompile(`\b(chisel|frp|ngrok|cloudflared|bore|localtunnel)\b`),

	// ── Persistence ──
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`>\s*~/?\.(bashrc|bash_profile|profile|zshrc)`),
	regexp.MustCompile(`\btee\b.*\.(bashrc|bash_profile|profile|zshrc)`),

	// ── Process manipulation ──
	regexp.MustCompile(`\bkill\s+-9\s`),
	regexp.MustCompile(`\b(killall|pkill)\b`),

	// ── Environment variable dumping ──
	regexp.MustCompile(`^\s*env\s*$`),
	regexp.MustCompile(`^\s*env\s*\|`),
	regexp.MustCompile(`^\s*env\s*>\s`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*(set|export\s+-p|declare\s+-x)\s*($|\|)`),
	regexp.MustCompile(`\bcompgen\s+-e\b`),
}

// ShellConfig parameterizes the shell execution tool, per spec.md §6 runtime
// configuration's "dangerousPatterns" + per-tool timeout/byte-cap knobs.
type ShellConfig struct {
	Timeout         time.Duration
	MaxOutputBytes  int
	DenyPatterns    []*regexp.Regexp
}

// DefaultShellConfig matches spec.md §7's 120s shell timeout and the
// executor's 32KB truncation window.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Timeout:        120 * time.Second,
		MaxOutputBytes: 32 * 1024,
		DenyPatterns:   defaultDenyPatterns,
	}
}

// RegisterShellTool adds the "exec" handler named in spec.md §4.B to reg.
func RegisterShellTool(reg *Registry, workspace string, cfg ShellConfig) {
	reg.Register(&Definition{
		Name:        "exec",
		Description: "Execute a shell command and return its stdout/stderr",
		Category:    CategoryCommand,
		Permission:  PermissionDangerous,
		Params: []ParamSpec{
			{Name: "command", Type: ParamString, Required: true},
			{Name: "working_dir", Type: ParamString},
		},
		Handler: execHandler(workspace, cfg),
	})
}

func execHandler(workspace string, cfg ShellConfig) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		command, _ := params["command"].(string)

		for _, pattern := range cfg.DenyPatterns {
			if pattern.MatchString(command) {
				return ErrorResult(fmt.Sprintf("command denied by safety policy: matches pattern %s", pattern.String()))
			}
		}

		cwd := workingDir(ec, workspace)
		if wd, _ := params["working_dir"].(string); wd != "" {
			resolved, err := resolvePath(wd, workingDir(ec, workspace), true)
			if err != nil {
				return ErrorResult(err.Error())
			}
			cwd = resolved
		}

		parentCtx := ec.Context
		if parentCtx == nil {
			parentCtx = context.Background()
		}
		ctx, cancel := context.WithTimeout(parentCtx, cfg.Timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = cwd

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()

		var output string
		if stdout.Len() > 0 {
			output = stdout.String()
		}
		if stderr.Len() > 0 {
			if output != "" {
				output += "\n"
			}
			output += "STDERR:\n" + stderr.String()
		}
		if len(output) > cfg.MaxOutputBytes {
			output = output[:cfg.MaxOutputBytes]
		}

		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &Result{
					Success: false,
					Error:   fmt.Sprintf("command timed out after %s", cfg.Timeout),
					Metadata: Metadata{ExitCode: -1, Signal: "SIGKILL"},
				}
			}
			if output == "" {
				output = err.Error()
			}
			return &Result{Success: false, Error: output, Metadata: Metadata{ExitCode: exitCode}}
		}

		if output == "" {
			output = "(command completed with no output)"
		}
		return &Result{Success: true, Output: output, Metadata: Metadata{ExitCode: 0}}
	}
}
